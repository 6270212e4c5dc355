/*
Package bridge republishes the line-JSON dispatch protocol over an MQTT
bus for remote control, e.g. multi-camera deployments.

Topic structure, for a configured namespace and entity id:

	<namespace>/<entity>/<category>/command   inbound (also .../request)
	<namespace>/<entity>/<category>/response  outbound

The inbound payload is the params object of a request, plus an optional
"id" field used purely for correlation; the outbound payload is the full
response JSON. Each category maps to one dispatcher method (by default
ptz -> ptz_control, screenshot -> take_screenshot, status ->
get_camera_status).

Messages are handled concurrently, one goroutine per message under a
bounded in-flight limit, and independently: a malformed payload produces
an error response on its response topic and never affects the
subscription loop. Delivery is at-most-once and responses are ordered
only by correlation id, never by arrival.

The bridge can dispatch in-process (Local) or proxy to an external
dispatcher process speaking the line protocol on stdin/stdout (Proc).
The bridge owns the child's lifecycle: started once, never restarted.
*/
package bridge
