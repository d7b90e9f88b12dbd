package didl

import "testing"

func TestRoundTrip(t *testing.T) {
	doc := &Document{
		Objects: []Object{
			{
				ID:          "1",
				ParentID:    "0",
				Restricted:  true,
				IsContainer: false,
				Title:       "Track & Field",
				Class:       "object.item.audioItem.musicTrack",
				Artist:      "Some Artist",
				Creator:     "Some Artist",
				Album:       "Some Album",
				Genre:       "Jazz",
				Date:        "2020-01-01",
				TrackNumber: 3,
				AlbumArtURI: "http://example.com/art.jpg",
				Resources: []Resource{
					{
						URL:             "http://example.com/stream.flac",
						ProtocolInfo:    "http-get:*:audio/flac:*",
						Duration:        "0:03:45",
						BitsPerSample:   24,
						SampleFrequency: 96000,
						Channels:        2,
					},
				},
				Descs: []Desc{
					{ID: "cdudn", NameSpace: "urn:schemas-rinconnetworks-com:metadata-1-0/", Value: "SA_RINCON12_1_X_#Svc12-0-Token"},
				},
			},
		},
	}

	xml := doc.Encode()
	decoded, err := Decode(xml)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded.Objects) != 1 {
		t.Fatalf("expected 1 object, got %d", len(decoded.Objects))
	}
	got := decoded.Objects[0]
	want := doc.Objects[0]

	if got.Title != want.Title || got.Class != want.Class || got.Artist != want.Artist ||
		got.Album != want.Album || got.Genre != want.Genre || got.Date != want.Date ||
		got.TrackNumber != want.TrackNumber || got.AlbumArtURI != want.AlbumArtURI {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
	if len(got.Resources) != 1 || got.Resources[0].URL != want.Resources[0].URL ||
		got.Resources[0].ProtocolInfo != want.Resources[0].ProtocolInfo ||
		got.Resources[0].BitsPerSample != want.Resources[0].BitsPerSample ||
		got.Resources[0].SampleFrequency != want.Resources[0].SampleFrequency ||
		got.Resources[0].Channels != want.Resources[0].Channels {
		t.Fatalf("resource round trip mismatch: got %+v want %+v", got.Resources, want.Resources)
	}
	if len(got.Descs) != 1 || got.Descs[0].NameSpace != want.Descs[0].NameSpace {
		t.Fatalf("desc round trip mismatch: got %+v want %+v", got.Descs, want.Descs)
	}
}

func TestDecodeTolerantOfUnknownElements(t *testing.T) {
	xmlBody := `<DIDL-Lite><item id="1" parentID="0" restricted="true"><dc:title>X</dc:title><upnp:class>object.item.audioItem.musicTrack</upnp:class><future:foo>bar</future:foo></item></DIDL-Lite>`
	doc, err := Decode(xmlBody)
	if err != nil {
		t.Fatalf("unexpected error on unknown element: %v", err)
	}
	if len(doc.Objects) != 1 || doc.Objects[0].Title != "X" {
		t.Fatalf("expected known fields preserved, got %+v", doc.Objects)
	}
}
