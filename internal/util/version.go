package util

// AppVersion is the daemon release, overridden at link time with
// -ldflags "-X github.com/zily-project/zily/internal/util.AppVersion=...".
var AppVersion = "1.0.0"
