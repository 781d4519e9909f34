package gateway

// forwardedAllowList is the closed set of agent methods the gateway will
// relay opaquely to the agent subprocess. It is the literal enumeration
// from the bridge's external-interface contract, grouped by the prefixes
// documented there; the contract itself calls it "non-exhaustive" but
// gives no further members, so this is the full extent of what ships.
// Method strings are opaque beyond this membership check — the gateway
// never interprets params for a forwarded method.
var forwardedAllowList = map[string]struct{}{
	"account/login/start":                {},
	"account/login/cancel":               {},
	"account/logout":                     {},
	"account/read":                       {},
	"account/rateLimits/read":            {},
	"thread/start":                       {},
	"thread/resume":                      {},
	"thread/read":                        {},
	"thread/list":                        {},
	"thread/fork":                        {},
	"thread/archive":                     {},
	"thread/unarchive":                   {},
	"thread/rollback":                    {},
	"thread/name/set":                    {},
	"thread/compact/start":               {},
	"thread/backgroundTerminals/clean":   {},
	"thread/loaded/list":                 {},
	"turn/start":                         {},
	"turn/steer":                         {},
	"turn/interrupt":                     {},
	"model/list":                         {},
	"review/start":                       {},
	"skills/list":                        {},
	"skills/config/write":                {},
	"skills/remote/list":                 {},
	"skills/remote/export":               {},
	"config/read":                        {},
	"config/value/write":                 {},
	"config/batchWrite":                  {},
	"config/mcpServer/reload":            {},
	"configRequirements/read":            {},
	"experimentalFeature/list":           {},
	"feedback/upload":                    {},
	"fuzzyFileSearch/sessionStart":       {},
	"fuzzyFileSearch/sessionStop":        {},
	"fuzzyFileSearch/sessionUpdate":      {},
	"mcpServer/oauth/login":              {},
	"mcpServerStatus/list":               {},
	"app/list":                           {},
	"collaborationMode/list":             {},
	"command/exec":                       {},
	"mock/experimentalMethod":            {},
}

func isForwardedMethod(method string) bool {
	_, ok := forwardedAllowList[method]
	return ok
}
