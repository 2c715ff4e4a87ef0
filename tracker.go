package main

import "net/url"

const trackerBaseURL = "https://tracker.gg/valorant/profile/riot"

// TrackerProfileURL builds the public profile link for a resolved player
// name. The name and tag travel as one path segment joined by '#', so the
// whole segment is escaped.
func TrackerProfileURL(gameName, tagLine string) string {
	if gameName == "" || tagLine == "" {
		return ""
	}
	return trackerBaseURL + "/" + url.PathEscape(gameName+"#"+tagLine) + "/overview"
}
