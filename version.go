package allocator

// Build information, set with -ldflags at build time.
var (
	CurrentVersion = "dev"
	CurrentBranch  = ""
	CurrentCommit  = ""
	BuildDate      = ""
	GoVersion      = ""
	Platform       = ""
)
