package dlna

import "strings"

// DLNAFlags is the DLNA.ORG_FLAGS value advertised in protocolInfo:
// streaming transfer mode, background transfer, connection stalling and
// byte-based seek.
const DLNAFlags = "01700000000000000000000000000000"

// BuildDIDL returns the DIDL-Lite document describing a single video
// item. The result is a plain XML document; callers embedding it in a
// SOAP argument must escape it with EscapeXML first.
func BuildDIDL(title, mediaURL, mime string) string {
	var b strings.Builder
	b.WriteString(`<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/">`)
	b.WriteString(`<item id="0" parentID="-1" restricted="1">`)
	b.WriteString("<dc:title>")
	b.WriteString(EscapeXML(title))
	b.WriteString("</dc:title>")
	b.WriteString("<upnp:class>object.item.videoItem</upnp:class>")
	b.WriteString(`<res protocolInfo="http-get:*:` + mime + `:DLNA.ORG_FLAGS=` + DLNAFlags + `">`)
	b.WriteString(EscapeXML(mediaURL))
	b.WriteString("</res>")
	b.WriteString("</item>")
	b.WriteString("</DIDL-Lite>")
	return b.String()
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

var xmlUnescaper = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&amp;", "&",
)

// EscapeXML escapes the characters that would break the enclosing SOAP
// document when a DIDL-Lite string is embedded as element text.
func EscapeXML(s string) string { return xmlEscaper.Replace(s) }

// UnescapeXML reverses EscapeXML.
func UnescapeXML(s string) string { return xmlUnescaper.Replace(s) }
