package common

// Version is overridden at build time via -ldflags "-X .../common.Version=...".
var Version = "dev"

// PackageName is used as the metrics namespace and default log service tag.
const PackageName = "confidential-loan-ledger"
