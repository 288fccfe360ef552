package dlna

import (
	"encoding/xml"
	"strings"
	"testing"
)

func TestBuildDIDL_wellFormed(t *testing.T) {
	didl := BuildDIDL("My Movie & More", "http://192.168.1.2:9876/media/movie.mp4", "video/mp4")

	// Must be parseable XML after building (titles and URLs may carry
	// reserved characters).
	var doc struct {
		XMLName xml.Name `xml:"DIDL-Lite"`
		Item    struct {
			Title string `xml:"title"`
			Class string `xml:"class"`
			Res   struct {
				ProtocolInfo string `xml:"protocolInfo,attr"`
				URL          string `xml:",chardata"`
			} `xml:"res"`
		} `xml:"item"`
	}
	if err := xml.Unmarshal([]byte(didl), &doc); err != nil {
		t.Fatalf("DIDL not well-formed: %v\n%s", err, didl)
	}
	if doc.Item.Title != "My Movie & More" {
		t.Fatalf("title = %q", doc.Item.Title)
	}
	if doc.Item.Class != "object.item.videoItem" {
		t.Fatalf("class = %q", doc.Item.Class)
	}
	if doc.Item.Res.URL != "http://192.168.1.2:9876/media/movie.mp4" {
		t.Fatalf("res = %q", doc.Item.Res.URL)
	}
	if !strings.Contains(doc.Item.Res.ProtocolInfo, "http-get:*:video/mp4:DLNA.ORG_FLAGS="+DLNAFlags) {
		t.Fatalf("protocolInfo = %q", doc.Item.Res.ProtocolInfo)
	}
}

func TestEscapeXML_roundTrip(t *testing.T) {
	inputs := []string{
		`plain`,
		`<tag attr="v">&amp;</tag>`,
		BuildDIDL("A & B", "http://host/a<b>.mp4", "video/mp4"),
	}
	for _, in := range inputs {
		if got := UnescapeXML(EscapeXML(in)); got != in {
			t.Fatalf("round trip:\n in: %q\nout: %q", in, got)
		}
	}
}

func TestEscapeXML_escapesReservedCharacters(t *testing.T) {
	out := EscapeXML(`<a href="x">&</a>`)
	for _, raw := range []string{"<", ">", `"`} {
		if strings.Contains(out, raw) {
			t.Fatalf("escaped output still contains %q: %q", raw, out)
		}
	}
}
