// Package clearinghouse exchanges EDI payloads with an eligibility
// clearinghouse over a CORE-style real-time SOAP envelope.
package clearinghouse

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
)

const (
	soapNamespace     = "http://schemas.xmlsoap.org/soap/envelope/"
	coreNamespace     = "http://www.caqh.org/SOAP/WSDL/CORERule2.2.0.xsd"
	coreRuleVersion   = "2.2.0"
	payloadType270    = "X12_270_Request_005010X279A1"
	processingModeRT  = "RealTime"
	envelopeSuccess   = "Success"
	timestampFormat   = "2006-01-02T15:04:05Z"
	responseLocalName = "COREEnvelopeRealTimeResponse"
)

// EnvelopeRequest carries the credential fields and EDI payload of one
// real-time exchange.
type EnvelopeRequest struct {
	Username   string
	Password   string
	SenderID   string
	ReceiverID string
	PayloadID  string
	Payload    string
	Timestamp  time.Time
}

// BuildEnvelope renders the request envelope. The EDI block is CDATA-escaped
// so segment delimiters survive XML transport.
func BuildEnvelope(req EnvelopeRequest) string {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	env := doc.CreateElement("soapenv:Envelope")
	env.CreateAttr("xmlns:soapenv", soapNamespace)
	env.CreateAttr("xmlns:cor", coreNamespace)

	body := env.CreateElement("soapenv:Body")
	rt := body.CreateElement("cor:COREEnvelopeRealTimeRequest")

	add := func(tag, text string) {
		rt.CreateElement(tag).SetText(text)
	}
	add("PayloadType", payloadType270)
	add("ProcessingMode", processingModeRT)
	add("PayloadID", req.PayloadID)
	add("TimeStamp", req.Timestamp.UTC().Format(timestampFormat))
	add("SenderID", req.SenderID)
	add("ReceiverID", req.ReceiverID)
	add("CORERuleVersion", coreRuleVersion)
	add("UserName", req.Username)
	add("Password", req.Password)
	rt.CreateElement("Payload").CreateCData(req.Payload)

	doc.Indent(2)
	out, _ := doc.WriteToString()
	return out
}

// payloadPaths are the envelope shapes observed across clearinghouse
// deployments: the payload element appears under different namespace
// prefixes, and some gateways omit the SOAP body wrapper entirely.
var payloadPaths = []string{
	"//soapenv:Body/cor:COREEnvelopeRealTimeResponse/Payload",
	"//cor:COREEnvelopeRealTimeResponse/cor:Payload",
	"//COREEnvelopeRealTimeResponse/Payload",
	"//ns1:COREEnvelopeRealTimeResponse/ns1:Payload",
}

// ExtractPayload pulls the EDI payload out of a response envelope, trying
// each known envelope shape before falling back to a local-name scan.
func ExtractPayload(rawResponse string) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(rawResponse); err != nil {
		return "", fmt.Errorf("%w: unparseable envelope: %v", ErrPayloadNotFound, err)
	}

	if code, msg := envelopeError(doc); code != "" && code != envelopeSuccess {
		return "", fmt.Errorf("%w: %s: %s", ErrTransportRejected, code, msg)
	}

	for _, path := range payloadPaths {
		if el := doc.FindElement(path); el != nil {
			if text := strings.TrimSpace(el.Text()); text != "" {
				return text, nil
			}
		}
	}

	// Namespace-agnostic fallback: any Payload element under a real-time
	// response element, whatever the prefixes.
	if el := findLocal(doc.Root(), responseLocalName); el != nil {
		if payload := findLocal(el, "Payload"); payload != nil {
			if text := strings.TrimSpace(payload.Text()); text != "" {
				return text, nil
			}
		}
	}

	return "", fmt.Errorf("%w: no payload element in response envelope", ErrPayloadNotFound)
}

// envelopeError reads the ErrorCode/ErrorMessage pair some gateways return
// in place of a payload.
func envelopeError(doc *etree.Document) (code, msg string) {
	if doc.Root() == nil {
		return "", ""
	}
	if el := findLocal(doc.Root(), "ErrorCode"); el != nil {
		code = strings.TrimSpace(el.Text())
	}
	if el := findLocal(doc.Root(), "ErrorMessage"); el != nil {
		msg = strings.TrimSpace(el.Text())
	}
	return code, msg
}

// findLocal walks the tree for the first element whose local tag matches,
// ignoring namespace prefixes.
func findLocal(el *etree.Element, local string) *etree.Element {
	if el == nil {
		return nil
	}
	if el.Tag == local {
		return el
	}
	for _, child := range el.ChildElements() {
		if found := findLocal(child, local); found != nil {
			return found
		}
	}
	return nil
}
