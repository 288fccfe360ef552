package dlna

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// UPnP service types used by a MediaRenderer.
const (
	ServiceAVTransport      = "AVTransport"
	ServiceRenderingControl = "RenderingControl"
)

// Error is a non-200 SOAP response or malformed XML from the renderer.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return "dlna: " + e.Msg }

// soapEnvelope wraps one action element in the standard SOAP envelope.
// args is pre-built XML (argument elements); values must already be
// escaped by the caller.
func soapEnvelope(service, action, args string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
<s:Body>
<u:%s xmlns:u="urn:schemas-upnp-org:service:%s:1">%s</u:%s>
</s:Body>
</s:Envelope>`, action, service, args, action)
}

// soapCall posts one action to controlURL and returns the response body.
// Success is HTTP 200; anything else is an Error carrying the body.
func soapCall(ctx context.Context, client *http.Client, controlURL, service, action, args string) (string, error) {
	body := soapEnvelope(service, action, args)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlURL, strings.NewReader(body))
	if err != nil {
		return "", &Error{fmt.Sprintf("%s: %v", action, err)}
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", fmt.Sprintf(`"urn:schemas-upnp-org:service:%s:1#%s"`, service, action))
	resp, err := client.Do(req)
	if err != nil {
		return "", &Error{fmt.Sprintf("%s: %v", action, err)}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &Error{fmt.Sprintf("%s: read response: %v", action, err)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &Error{fmt.Sprintf("%s: HTTP %d: %s", action, resp.StatusCode, strings.TrimSpace(string(respBody)))}
	}
	return string(respBody), nil
}

// extractTag returns the text between the first <tag> and </tag>,
// ignoring any namespace prefix on the tag. Scoped extraction is enough
// for the fixed, narrow schemas of SOAP responses and device
// descriptions.
func extractTag(doc, tag string) string {
	open := "<" + tag + ">"
	start := strings.Index(doc, open)
	if start < 0 {
		return ""
	}
	start += len(open)
	end := strings.Index(doc[start:], "</"+tag+">")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(doc[start : start+end])
}
