// Package httputil provides HTTP helpers shared by lumen's handlers: JSON
// responses with the {"error", "details"} body, request parsing (JSON,
// path and query parameters, multipart uploads) and generic middleware.
//
//	var req checkoutRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // 400 already written
//	}
//
//	httputil.WriteDetailedError(w, http.StatusServiceUnavailable,
//		"Image generation service unavailable", err.Error())
package httputil
