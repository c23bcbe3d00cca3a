package backup

import "testing"

func TestCanonicalURL(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"https://Forum.Example.com/threads/trip-report.12345/", "https://forum.example.com/threads/trip-report.12345"},
		{"https://forum.example.com/threads/trip-report.12345/page-7", "https://forum.example.com/threads/trip-report.12345"},
		{"https://forum.example.com/threads/trip-report.12345/page-7/", "https://forum.example.com/threads/trip-report.12345"},
		{"https://forum.example.com/threads/trip-report.12345#post-9", "https://forum.example.com/threads/trip-report.12345"},
		{"  https://forum.example.com/threads/trip-report.12345  ", "https://forum.example.com/threads/trip-report.12345"},
		{"https://forum.example.com/", "https://forum.example.com/"},
	}
	for _, tc := range cases {
		if got := CanonicalURL(tc.raw); got != tc.want {
			t.Fatalf("CanonicalURL(%q): got %q want %q", tc.raw, got, tc.want)
		}
	}
}

func TestPageURL(t *testing.T) {
	identity := "https://forum.example.com/threads/trip-report.12345"
	if got := PageURL(identity, 1); got != identity {
		t.Fatalf("page 1 URL: got %q want identity", got)
	}
	if got, want := PageURL(identity, 4), identity+"/page-4"; got != want {
		t.Fatalf("page 4 URL: got %q want %q", got, want)
	}
}

func TestThreadID(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://forum.example.com/threads/trip-report.12345", "12345"},
		{"https://forum.example.com/threads/no-id-here", ""},
		{"https://forum.example.com/threads/dots.in.slug.678", "678"},
	}
	for _, tc := range cases {
		if got := ThreadID(tc.url); got != tc.want {
			t.Fatalf("ThreadID(%q): got %q want %q", tc.url, got, tc.want)
		}
	}
}

func TestSanitizeTitle(t *testing.T) {
	cases := []struct {
		title string
		want  string
	}{
		{"(3) Trip Report: Alps | Forum", "Trip Report_ Alps _ Forum"},
		{"a/b\\c*d?e:f\"g<h>i|j", "a_b_c_d_e_f_g_h_i_j"},
		{"   ", "thread"},
	}
	for _, tc := range cases {
		if got := SanitizeTitle(tc.title); got != tc.want {
			t.Fatalf("SanitizeTitle(%q): got %q want %q", tc.title, got, tc.want)
		}
	}

	long := make([]rune, 0, 120)
	for i := 0; i < 120; i++ {
		long = append(long, 'x')
	}
	if got := SanitizeTitle(string(long)); len([]rune(got)) != 80 {
		t.Fatalf("long title should cap at 80 runes, got %d", len([]rune(got)))
	}
}

func TestDirName(t *testing.T) {
	if got, want := DirName("Trip Report  Alps", "12345"), "Trip_Report_Alps_12345"; got != want {
		t.Fatalf("DirName: got %q want %q", got, want)
	}
	if got, want := DirName("Solo", ""), "Solo"; got != want {
		t.Fatalf("DirName without id: got %q want %q", got, want)
	}
}
