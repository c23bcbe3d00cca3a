package scrape

import "github.com/PuerkitoBio/goquery"

const offlineStyleID = "offline-readability"

// With scripts stripped the page loses its spoiler toggles and lazy layout;
// this block keeps the archive readable without them.
const offlineCSS = `
body, html { background: #2e2e2e; margin: 0; padding: 0; }
.p-pageWrapper { max-width: 1280px; margin: 20px auto; background: #3a3a3a; border-radius: 6px; overflow: hidden; }
.p-body { background: #474747; padding: 20px 15px; }
.p-nav, .p-header { background: #1e1e1e; color: #fff; }
.message, .message--post { background: #545454 !important; border: 1px solid #404040; border-radius: 4px; margin-bottom: 20px; color: #e8e8e8 !important; }
.message .message-inner { display: flex; }
.message-cell--user { background: #606060; border-right: 1px solid #404040; padding: 15px 12px; width: 140px; }
.message-cell--main { padding: 15px; flex: 1; background: #4e4e4e; }
.message-cell--main, .message-cell--main * { color: #e8e8e8 !important; }
img.bbImage, .bbCodeImage, .message img:not(.avatar) { max-width: 100% !important; width: auto; height: auto; display: block; margin: 4px 0; }
.bbCodeSpoiler-content { display: block !important; visibility: visible !important; opacity: 1 !important; height: auto !important; overflow: visible !important; }
a { color: #7ab3e0; }
a:hover { color: #a8d0f0; }
`

func injectOfflineStyle(doc *goquery.Document) {
	if doc.Find("style#" + offlineStyleID).Length() > 0 {
		return
	}
	head := doc.Find("head").First()
	if head.Length() == 0 {
		return
	}
	if doc.Find(`meta[name="viewport"]`).Length() == 0 {
		head.AppendHtml(`<meta name="viewport" content="width=device-width, initial-scale=1.0">`)
	}
	head.AppendHtml(`<style id="` + offlineStyleID + `">` + offlineCSS + `</style>`)
}
