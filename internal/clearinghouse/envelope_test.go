package clearinghouse

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const sampleEDI = "ISA*00*          *00*          *ZZ*SENDER~ST*270*0001~SE*2*0001~"

func TestBuildEnvelopeEscapesPayload(t *testing.T) {
	env := BuildEnvelope(EnvelopeRequest{
		Username:   "labuser",
		Password:   "secret",
		SenderID:   "CANYONMED",
		ReceiverID: "CLEARINGHS",
		PayloadID:  "pid-001",
		Payload:    sampleEDI,
		Timestamp:  time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
	})

	if !strings.Contains(env, "<![CDATA["+sampleEDI+"]]>") {
		t.Error("payload must be CDATA-escaped")
	}
	if !strings.Contains(env, "<PayloadType>X12_270_Request_005010X279A1</PayloadType>") {
		t.Error("missing payload type discriminator")
	}
	if !strings.Contains(env, "<UserName>labuser</UserName>") {
		t.Error("missing credential fields")
	}
}

func TestExtractPayloadNamespaceVariants(t *testing.T) {
	variants := map[string]string{
		"soapenv+cor": `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
			<soapenv:Body><cor:COREEnvelopeRealTimeResponse xmlns:cor="x">
			<Payload>` + sampleEDI + `</Payload>
			</cor:COREEnvelopeRealTimeResponse></soapenv:Body></soapenv:Envelope>`,
		"cor-prefixed-payload": `<cor:Envelope xmlns:cor="x"><cor:Body>
			<cor:COREEnvelopeRealTimeResponse><cor:Payload>` + sampleEDI + `</cor:Payload>
			</cor:COREEnvelopeRealTimeResponse></cor:Body></cor:Envelope>`,
		"no-prefix": `<Envelope><Body><COREEnvelopeRealTimeResponse>
			<Payload>` + sampleEDI + `</Payload>
			</COREEnvelopeRealTimeResponse></Body></Envelope>`,
		"ns1": `<ns1:Envelope xmlns:ns1="y"><ns1:Body>
			<ns1:COREEnvelopeRealTimeResponse><ns1:Payload>` + sampleEDI + `</ns1:Payload>
			</ns1:COREEnvelopeRealTimeResponse></ns1:Body></ns1:Envelope>`,
	}

	for name, raw := range variants {
		payload, err := ExtractPayload(raw)
		if err != nil {
			t.Errorf("%s: extract failed: %v", name, err)
			continue
		}
		if payload != sampleEDI {
			t.Errorf("%s: payload = %q", name, payload)
		}
	}
}

func TestExtractPayloadMissing(t *testing.T) {
	_, err := ExtractPayload(`<Envelope><Body><COREEnvelopeRealTimeResponse>
		</COREEnvelopeRealTimeResponse></Body></Envelope>`)
	if !errors.Is(err, ErrPayloadNotFound) {
		t.Errorf("err = %v, want ErrPayloadNotFound", err)
	}
}

func TestExtractPayloadGatewayError(t *testing.T) {
	_, err := ExtractPayload(`<Envelope><Body><COREEnvelopeRealTimeResponse>
		<ErrorCode>Receiver</ErrorCode>
		<ErrorMessage>PayloadID rejected</ErrorMessage>
		</COREEnvelopeRealTimeResponse></Body></Envelope>`)
	if !errors.Is(err, ErrTransportRejected) {
		t.Errorf("err = %v, want ErrTransportRejected", err)
	}
}

func TestExtractPayloadUnparseable(t *testing.T) {
	_, err := ExtractPayload("this is not xml <<<")
	if !errors.Is(err, ErrPayloadNotFound) {
		t.Errorf("err = %v, want ErrPayloadNotFound", err)
	}
}
