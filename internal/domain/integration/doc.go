// Package integration contains the ports for external accounting platforms.
//
// Key concepts:
//   - AccountingPlatform: port for reading paginated entity collections from Xero, freee, ...
//   - ExternalRecord: one record as returned by the platform, normalized to canonical keys
//   - CredentialProvider: source of access tokens; token acquisition itself lives elsewhere
//
// Adapters implementing these ports live in infrastructure/accounting.
package integration
