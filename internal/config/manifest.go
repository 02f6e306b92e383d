package config

import "fmt"

// CacheVersion names the offline cache bucket. Bump it whenever any asset in
// the manifest changes; it can be set at build time with
//
//	-ldflags "-X github.com/sarthi-app/sarthi/internal/config.CacheVersion=1.0.9"
var CacheVersion = "1.0.8"

// IconFontURL is the one manifest entry served from a CDN.
const IconFontURL = "https://cdn.jsdelivr.net/npm/@fortawesome/fontawesome-free@6.4.0/js/all.min.js"

// ChapterCount is the number of chapters, each with its own translation file.
const ChapterCount = 18

// DefaultManifest returns the application shell precached on install.
func DefaultManifest() []string {
	manifest := []string{
		"/",
		"/index.html",
		"/css/styles.css",
		"/js/app.js",
		"/js/app-saarthi.js",
		"/manifest.json",
		"/favicon.ico",
		"/images/icon-192.png",
		"/images/icon-512.png",
		"/images/app-icon.png",
		"/images/SarthiAI.png",
		"/images/krishna-and-arjuna.jpg",
		"/assets/chapters.json",
		"/assets/verse.json",
		"/assets/youtube_videos.json",
	}
	for i := 1; i <= ChapterCount; i++ {
		manifest = append(manifest, fmt.Sprintf("/assets/verse_translation/chapter_%d.json", i))
	}
	return append(manifest, IconFontURL)
}
