// Package urlimport tracks remote media URLs through metadata lookup and
// server-side download.
//
// Each submitted URL becomes an Item that moves through
// fetching-info -> ready -> downloading -> complete, or to error from either
// network step. The server reports download progress over the event stream
// keyed by the item ID; HandleProgress applies those events only to items
// that are downloading. Completed items carry the server path of the
// downloaded file and can be imported into the source registry.
package urlimport
