/*
Package dispatch implements a line-delimited JSON request/response dispatcher.

Each inbound line is one JSON request of the form

	{"method": "<name>", "params": {...}, "id": <opaque>}

and produces exactly one JSON response line, either

	{"result": {...}, "id": <opaque>}

or

	{"error": {"code": <int>, "message": "<text>"}, "id": <opaque>}

The id is opaque: it is echoed back byte-for-byte when the request carried
one, and omitted otherwise. A line that fails to parse as JSON yields a
parse error response (code -32700) with no id, since the id could not be
recovered.

Deployments supply a handler table mapping method names to handler
functions. Handler failures, including panics, are converted into error
responses at the dispatch boundary; nothing a handler does can terminate
the serve loop. Requests on one stream are processed strictly one at a
time, in arrival order.
*/
package dispatch
