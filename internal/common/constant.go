package common

// AccessTokenHeaderName is the HTTP header key used to carry the access
// token on outbound requests to the cloud store.
const AccessTokenHeaderName = "Authorization"

// ExportBundleVersion is the current on-disk format version of export
// bundles. Import rejects bundles with a newer version.
const ExportBundleVersion = 1
