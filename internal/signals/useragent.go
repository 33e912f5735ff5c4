// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

// Package signals derives normalized features from raw login events.
//
// Everything here is pure: no I/O, no clock, no shared mutable state.
// User-agent classification walks ordered (predicate, label) tables and
// the first match wins, so more specific tokens must sit above the generic
// ones they contain (Edge before Chrome, iOS before macOS).
package signals

import "strings"

// Unknown is the label for anything no table entry matches.
const Unknown = "Unknown"

// Device types.
const (
	DeviceDesktop = "Desktop"
	DeviceMobile  = "Mobile"
	DeviceTablet  = "Tablet"
)

// AgentInfo is the classification of a user-agent string.
type AgentInfo struct {
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	DeviceType string `json:"device_type"`
	IsMobile   bool   `json:"is_mobile"`
	IsBot      bool   `json:"is_bot"`
	BotToken   string `json:"bot_token,omitempty"`
}

// Pattern matches a lowercased user-agent string.
type Pattern func(ua string) bool

// Rule pairs a pattern with the label it assigns.
type Rule struct {
	Label string
	Match Pattern
}

// Any matches when ua contains any of the tokens. Tokens must be lowercase.
func Any(tokens ...string) Pattern {
	return func(ua string) bool {
		for _, t := range tokens {
			if strings.Contains(ua, t) {
				return true
			}
		}
		return false
	}
}

// All matches when every pattern matches.
func All(ps ...Pattern) Pattern {
	return func(ua string) bool {
		for _, p := range ps {
			if !p(ua) {
				return false
			}
		}
		return true
	}
}

// Not inverts p.
func Not(p Pattern) Pattern {
	return func(ua string) bool { return !p(ua) }
}

// BrowserRules is ordered; Chromium derivatives precede Chrome and Chrome
// precedes Safari because their agents carry the later tokens too.
var BrowserRules = []Rule{
	{"Edge", Any("edg/", "edge/", "edga/", "edgios/")},
	{"Opera", Any("opr/", "opera", "opt/")},
	{"Samsung Internet", Any("samsungbrowser/")},
	{"Yandex", Any("yabrowser/")},
	{"Firefox", Any("firefox/", "fxios/")},
	{"Chrome", Any("chrome/", "crios/", "chromium/")},
	{"Safari", All(Any("safari/"), Not(Any("android")))},
	{"Android Browser", All(Any("android"), Any("version/"))},
	{"Internet Explorer", Any("msie ", "trident/")},
}

// OSRules is ordered; iPadOS agents also claim "mac os x" and Android
// agents also claim "linux".
var OSRules = []Rule{
	{"Windows Phone", Any("windows phone")},
	{"Windows", Any("windows")},
	{"iOS", Any("iphone", "ipad", "ipod")},
	{"Android", Any("android")},
	{"ChromeOS", Any("cros ")},
	{"macOS", Any("mac os x", "macintosh")},
	{"Linux", Any("linux", "x11")},
}

// DeviceRules is ordered; Android tablets omit the "mobile" token.
var DeviceRules = []Rule{
	{DeviceTablet, Any("ipad", "tablet", "kindle", "silk/")},
	{DeviceTablet, All(Any("android"), Not(Any("mobile")))},
	{DeviceMobile, Any("mobi", "iphone", "ipod", "windows phone", "android")},
	{DeviceDesktop, Any("windows", "macintosh", "mac os x", "x11", "cros ", "linux")},
}

// BotSignatures are lowercase substrings of crawler, scraper and scripting
// agents.
var BotSignatures = []string{
	"bot", "crawler", "spider", "slurp", "scrapy",
	"curl", "wget", "httpie", "python", "aiohttp", "go-http-client",
	"java/", "okhttp", "libwww", "httpclient", "axios", "node-fetch",
	"headless", "phantom", "selenium", "puppeteer", "playwright",
	"postman", "insomnia", "masscan", "nmap", "sqlmap", "hydra",
}

// Classifier holds the tables used by Classify.
type Classifier struct {
	browsers []Rule
	systems  []Rule
	devices  []Rule
	bots     []string
}

// NewClassifier returns a classifier using the default tables plus any
// extra bot signatures. Extra signatures are matched case-insensitively.
func NewClassifier(extraBots ...string) *Classifier {
	bots := make([]string, 0, len(BotSignatures)+len(extraBots))
	bots = append(bots, BotSignatures...)
	for _, s := range extraBots {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			bots = append(bots, s)
		}
	}
	return &Classifier{
		browsers: BrowserRules,
		systems:  OSRules,
		devices:  DeviceRules,
		bots:     bots,
	}
}

var defaultClassifier = NewClassifier()

// Classify uses the default tables.
func Classify(userAgent string) AgentInfo {
	return defaultClassifier.Classify(userAgent)
}

// Classify is total over all strings; an empty agent is Unknown and not a
// bot.
func (c *Classifier) Classify(userAgent string) AgentInfo {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return AgentInfo{Browser: Unknown, OS: Unknown, DeviceType: Unknown}
	}

	info := AgentInfo{
		Browser:    firstMatch(c.browsers, ua),
		OS:         firstMatch(c.systems, ua),
		DeviceType: firstMatch(c.devices, ua),
	}
	info.IsMobile = info.DeviceType == DeviceMobile || info.DeviceType == DeviceTablet
	info.BotToken = c.botToken(ua)
	info.IsBot = info.BotToken != ""
	return info
}

// IsBot reports whether userAgent matches a bot signature.
func (c *Classifier) IsBot(userAgent string) bool {
	return c.botToken(strings.ToLower(userAgent)) != ""
}

func (c *Classifier) botToken(ua string) string {
	for _, sig := range c.bots {
		if strings.Contains(ua, sig) {
			return sig
		}
	}
	return ""
}

func firstMatch(rules []Rule, ua string) string {
	for _, r := range rules {
		if r.Match(ua) {
			return r.Label
		}
	}
	return Unknown
}
