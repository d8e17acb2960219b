package onvif

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Namespaces used by requests.
const (
	nsSOAP    = "http://www.w3.org/2003/05/soap-envelope"
	nsDevice  = "http://www.onvif.org/ver10/device/wsdl"
	nsMedia   = "http://www.onvif.org/ver10/media/wsdl"
	nsPTZ     = "http://www.onvif.org/ver20/ptz/wsdl"
	nsImaging = "http://www.onvif.org/ver20/imaging/wsdl"
	nsSchema  = "http://www.onvif.org/ver10/schema"
	nsWSSE    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	nsWSU     = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"

	passwordDigestType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest"
	nonceEncodingType  = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary"
)

type requestEnvelope struct {
	XMLName   xml.Name  `xml:"s:Envelope"`
	XmlnsS    string    `xml:"xmlns:s,attr"`
	XmlnsTds  string    `xml:"xmlns:tds,attr"`
	XmlnsTrt  string    `xml:"xmlns:trt,attr"`
	XmlnsTptz string    `xml:"xmlns:tptz,attr"`
	XmlnsTimg string    `xml:"xmlns:timg,attr"`
	XmlnsTt   string    `xml:"xmlns:tt,attr"`
	Header    *security `xml:"s:Header>wsse:Security,omitempty"`
	Body      struct {
		Content any `xml:",any"`
	} `xml:"s:Body"`
}

type security struct {
	XmlnsWSSE     string        `xml:"xmlns:wsse,attr"`
	XmlnsWSU      string        `xml:"xmlns:wsu,attr"`
	UsernameToken usernameToken `xml:"wsse:UsernameToken"`
}

type usernameToken struct {
	Username string `xml:"wsse:Username"`
	Password struct {
		Type  string `xml:"Type,attr"`
		Value string `xml:",chardata"`
	} `xml:"wsse:Password"`
	Nonce struct {
		EncodingType string `xml:"EncodingType,attr"`
		Value        string `xml:",chardata"`
	} `xml:"wsse:Nonce"`
	Created string `xml:"wsu:Created"`
}

// PasswordDigest computes Base64(SHA1(nonce + created + password)).
func PasswordDigest(nonce []byte, created, password string) string {
	h := sha1.New()
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(password))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func newSecurity(username, password string, now time.Time) (*security, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	created := now.UTC().Format(time.RFC3339)

	s := &security{XmlnsWSSE: nsWSSE, XmlnsWSU: nsWSU}
	s.UsernameToken.Username = username
	s.UsernameToken.Password.Type = passwordDigestType
	s.UsernameToken.Password.Value = PasswordDigest(nonce, created, password)
	s.UsernameToken.Nonce.EncodingType = nonceEncodingType
	s.UsernameToken.Nonce.Value = base64.StdEncoding.EncodeToString(nonce)
	s.UsernameToken.Created = created
	return s, nil
}

// marshalEnvelope wraps body in a SOAP 1.2 envelope.
func marshalEnvelope(body any, sec *security) ([]byte, error) {
	env := requestEnvelope{
		XmlnsS:    nsSOAP,
		XmlnsTds:  nsDevice,
		XmlnsTrt:  nsMedia,
		XmlnsTptz: nsPTZ,
		XmlnsTimg: nsImaging,
		XmlnsTt:   nsSchema,
		Header:    sec,
	}
	env.Body.Content = body

	out, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SOAP envelope: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// Fault is a SOAP fault returned by the device.
type Fault struct {
	Code struct {
		Value   string `xml:"Value"`
		Subcode struct {
			Value string `xml:"Value"`
		} `xml:"Subcode"`
	} `xml:"Code"`
	Reason struct {
		Text string `xml:"Text"`
	} `xml:"Reason"`
}

func (f *Fault) Error() string {
	code := f.Code.Value
	if f.Code.Subcode.Value != "" {
		code += "/" + f.Code.Subcode.Value
	}
	return fmt.Sprintf("soap fault %s: %s", code, f.Reason.Text)
}

type responseEnvelope struct {
	Body struct {
		Fault   *Fault `xml:"Fault"`
		Content []byte `xml:",innerxml"`
	} `xml:"Body"`
}

// call posts one SOAP request to endpoint and decodes the response body
// into out, which may be nil.
func (c *Client) call(ctx context.Context, endpoint string, req, out any) error {
	var sec *security
	if c.cfg.Username != "" {
		var err error
		if sec, err = newSecurity(c.cfg.Username, c.cfg.Password, c.now()); err != nil {
			return err
		}
	}
	payload, err := marshalEnvelope(req, sec)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env responseEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("device returned %s", resp.Status)
		}
		return fmt.Errorf("failed to decode SOAP envelope: %w", err)
	}
	if env.Body.Fault != nil {
		return env.Body.Fault
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("device returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := xml.Unmarshal(env.Body.Content, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
