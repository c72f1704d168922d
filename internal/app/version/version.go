package version

// Overridden at build time with
// -ldflags "-X cidrbans/internal/app/version.buildVersion=...".
var (
	buildVersion = "dev"
	builtAt      = "unknown"
)

// Info describes the running build.
type Info struct {
	BuildVersion string `json:"buildVersion"`
	BuiltAt      string `json:"builtAt"`
}

func Get() Info {
	return Info{
		BuildVersion: buildVersion,
		BuiltAt:      builtAt,
	}
}

// String is the one-line form printed by --version.
func (i Info) String() string {
	return i.BuildVersion + " (built " + i.BuiltAt + ")"
}
