package twilio

import "encoding/xml"

// FallbackMessage is spoken when the media stream ends without a bridge.
const FallbackMessage = "Sorry, we could not connect your call. Goodbye."

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
	Say     []twimlSay    `xml:"Say,omitempty"`
	Hangup  *struct{}     `xml:"Hangup,omitempty"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Track      string           `xml:"track,attr,omitempty"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlSay struct {
	Text string `xml:",chardata"`
}

// ConnectToRoom answers a call with a bidirectional media stream to
// streamURL carrying room as a custom parameter. If the stream ends the
// caller hears the fallback and the call is hung up.
func ConnectToRoom(streamURL, room string) ([]byte, error) {
	resp := twimlResponse{
		Connect: &twimlConnect{Stream: twimlStream{
			URL:        streamURL,
			Parameters: []twimlParameter{{Name: RoomParameter, Value: room}},
		}},
		Say:    []twimlSay{{Text: FallbackMessage}},
		Hangup: &struct{}{},
	}
	return marshalTwiML(resp)
}

// Reject is the answer for a request that cannot be bridged at all.
func Reject(message string) ([]byte, error) {
	return marshalTwiML(twimlResponse{Say: []twimlSay{{Text: message}}, Hangup: &struct{}{}})
}

func marshalTwiML(resp twimlResponse) ([]byte, error) {
	body, err := xml.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}
