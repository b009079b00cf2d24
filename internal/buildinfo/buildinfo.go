package buildinfo

import "runtime/debug"

// Set via -ldflags "-X vrpdash/internal/buildinfo.Version=..." at release time.
var (
    Version = "dev"
    Commit  = ""
    BuiltAt = ""
)

// Info reports the linker-stamped fields, falling back to the VCS settings
// the Go toolchain embeds when the binary was built from a checkout.
func Info() map[string]string {
    out := map[string]string{
        "version": Version,
        "commit":  Commit,
        "builtAt": BuiltAt,
    }
    bi, ok := debug.ReadBuildInfo()
    if !ok { return out }
    out["goVersion"] = bi.GoVersion
    for _, s := range bi.Settings {
        switch s.Key {
        case "vcs.revision":
            if out["commit"] == "" { out["commit"] = s.Value }
        case "vcs.time":
            if out["builtAt"] == "" { out["builtAt"] = s.Value }
        case "vcs.modified":
            out["dirty"] = s.Value
        }
    }
    return out
}
