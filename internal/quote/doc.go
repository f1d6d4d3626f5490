// Package quote provides the external quote-fetch collaborator.
//
// The Fetcher interface is what publishers depend on; Client is an HTTP
// implementation with bounded retries. Tests inject fakes.
package quote
