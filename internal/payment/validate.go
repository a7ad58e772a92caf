package payment

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

const (
	identifierMinLen = 9
	identifierMaxLen = 13
)

// Channel is one entry of the payment channel catalog. Account and Holder
// name the payee that submitters pay into; both are optional.
type Channel struct {
	Code    string   `yaml:"code"`
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
	Account string   `yaml:"account"`
	Holder  string   `yaml:"holder"`
}

type Catalog []Channel

// DefaultCatalog is used when no catalog file is configured.
var DefaultCatalog = Catalog{
	{Code: "KBZ", Name: "KBZ Pay", Aliases: []string{"kbzpay"}},
	{Code: "WAVE", Name: "Wave Pay", Aliases: []string{"wavepay", "wave money"}},
	{Code: "AYA", Name: "AYA Pay", Aliases: []string{"ayapay"}},
	{Code: "CB", Name: "CB Pay", Aliases: []string{"cbpay"}},
	{Code: "UAB", Name: "UAB Pay", Aliases: []string{"uabpay"}},
}

// Lookup matches s against codes, names and aliases, ignoring case and
// surrounding whitespace.
func (c Catalog) Lookup(s string) (Channel, bool) {
	needle := strings.ToLower(strings.TrimSpace(s))
	if needle == "" {
		return Channel{}, false
	}

	for _, ch := range c {
		if strings.ToLower(ch.Code) == needle || strings.ToLower(ch.Name) == needle {
			return ch, true
		}
		for _, a := range ch.Aliases {
			if strings.ToLower(a) == needle {
				return ch, true
			}
		}
	}

	return Channel{}, false
}

// Name returns the display name for a stored channel code.
func (c Catalog) Name(code string) string {
	for _, ch := range c {
		if ch.Code == code {
			return ch.Name
		}
	}

	return code
}

var DefaultDocumentTypes = []string{
	"image/jpeg",
	"image/png",
	"image/webp",
	"application/pdf",
}

type Rules struct {
	MinAmount     int64
	Catalog       Catalog
	DocumentTypes []string
}

func DefaultRules() Rules {
	return Rules{
		MinAmount:     1000,
		Catalog:       DefaultCatalog,
		DocumentTypes: DefaultDocumentTypes,
	}
}

// apply validates v for field f and stores the normalized value on r.
func (rules Rules) apply(r *Request, f Field, v Value) error {
	if f != FieldProof && v.Attachment != nil {
		return invalid(f, "expected a text value")
	}

	switch f {
	case FieldIdentifier:
		id, err := rules.identifier(v.Text)
		if err != nil {
			return err
		}
		r.Identifier = &id

	case FieldAmount:
		amount, err := rules.amount(v.Text)
		if err != nil {
			return err
		}
		r.Amount = &amount

	case FieldChannel:
		ch, ok := rules.Catalog.Lookup(v.Text)
		if !ok {
			return invalid(f, "unknown payment channel")
		}
		code := ch.Code
		r.Channel = &code

	case FieldProof:
		a, err := rules.proof(v)
		if err != nil {
			return err
		}
		r.Proof = &a

	default:
		return invalid(f, "unknown field")
	}

	return nil
}

func (rules Rules) identifier(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if !digitsOnly.MatchString(s) {
		return "", invalid(FieldIdentifier, "digits only")
	}
	if len(s) < identifierMinLen || len(s) > identifierMaxLen {
		return "", invalid(FieldIdentifier,
			fmt.Sprintf("length must be between %d and %d", identifierMinLen, identifierMaxLen))
	}

	return s, nil
}

func (rules Rules) amount(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if !digitsOnly.MatchString(s) {
		return 0, invalid(FieldAmount, "digits only")
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, invalid(FieldAmount, "amount is too large")
	}
	if n < rules.MinAmount {
		return 0, invalid(FieldAmount, fmt.Sprintf("minimum amount is %d", rules.MinAmount))
	}

	return n, nil
}

func (rules Rules) proof(v Value) (Attachment, error) {
	if v.Attachment == nil {
		return Attachment{}, invalid(FieldProof, "photo or document required")
	}

	a := *v.Attachment
	if strings.TrimSpace(a.Ref) == "" {
		return Attachment{}, invalid(FieldProof, "empty attachment")
	}

	switch a.Kind {
	case AttachmentPhoto:
		return a, nil
	case AttachmentDocument:
		mime := strings.ToLower(strings.TrimSpace(a.MimeType))
		for _, t := range rules.DocumentTypes {
			if mime == t {
				return a, nil
			}
		}
		return Attachment{}, invalid(FieldProof, "unsupported document type")
	}

	return Attachment{}, invalid(FieldProof, "photo or document required")
}
