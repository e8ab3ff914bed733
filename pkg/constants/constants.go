package constants

// OTADirName is the name of the OTA root directory below the application storage root.
const OTADirName = "ota"

// CurrentDirName is the directory the native loader reads the bundle from.
const CurrentDirName = "current"

// PreviousDirName is the single backup slot holding the bundle that was replaced last.
const PreviousDirName = "previous"

// TempDirName is the scratch directory archives are extracted into before promotion.
const TempDirName = "temp"

// ArchiveFileName is the fixed scratch path downloads are written to.
const ArchiveFileName = "update.zip"

// MetadataFileName is the persisted metadata record.
const MetadataFileName = "meta.json"

// DefaultEntryPoint is the bundle file that has to be present in every staged update.
const DefaultEntryPoint = "index.bundle"

// DefaultArchiveExtension is used to pick the release asset that contains the bundle.
const DefaultArchiveExtension = ".zip"

// ReleaseMediaType is sent as the Accept header when querying the release endpoint.
const ReleaseMediaType = "application/vnd.github+json"

// GitHubAPIBase is used to derive the release endpoint from a repository name.
const GitHubAPIBase = "https://api.github.com"

// DefaultBootAttempts is the number of unconfirmed boots that are tolerated before rolling back.
const DefaultBootAttempts = 1

// DefaultReleaseURL returns the release endpoint used when none is configured.
// Uses a function to ensure immutability of the default.
func DefaultReleaseURL() string {
	return "https://api.github.com/repos/AmreshVs/RNOtaAppServer/releases/latest"
}
