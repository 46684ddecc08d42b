package document

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go-identity-flow/capture"
	"go-identity-flow/images"
	"go-identity-flow/models"

	"github.com/gmrtd/gmrtd/activeauth"
	"github.com/gmrtd/gmrtd/cms"
	"github.com/gmrtd/gmrtd/document"
	"github.com/gmrtd/gmrtd/passiveauth"
	"github.com/gmrtd/gmrtd/utils"
)

const TypePassport = "passport"

var (
	ErrPassiveAuthFailed = errors.New("passive authentication failed")
	ErrActiveAuthFailed  = errors.New("active authentication failed")
)

// Field names of a DocumentRecognition
const (
	FieldDocumentNumber = "document_number"
	FieldDocumentType   = "document_type"
	FieldFirstName      = "first_name"
	FieldLastName       = "last_name"
	FieldNationality    = "nationality"
	FieldDateOfBirth    = "date_of_birth"
	FieldDateOfExpiry   = "date_of_expiry"
	FieldGender         = "gender"
	FieldIssuingCountry = "issuing_country"
	FieldActiveAuth     = "active_authentication"
	FieldExpired        = "expired"
)

// PassportReader verifies eMRTD chip readouts against the CSCA master list.
type PassportReader struct {
	certPool cms.CertPool
	now      func() time.Time
}

func NewPassportReader(certPool cms.CertPool) *PassportReader {
	return &PassportReader{certPool: certPool, now: time.Now}
}

// Read runs passive authentication, and active authentication when the chip
// signed nonce, then turns the chip contents into a DocumentRecognition.
func (r *PassportReader) Read(readout models.ChipReadout, nonce string) (*capture.DocumentRecognition, error) {
	doc, err := r.passive(readout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPassiveAuthFailed, err)
	}

	active, err := activeAuthentication(readout, nonce, doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrActiveAuthFailed, err)
	}

	return r.toRecognition(doc, active)
}

func (r *PassportReader) passive(readout models.ChipReadout) (document.Document, error) {
	var doc document.Document

	if len(readout.DataGroups) == 0 {
		return doc, fmt.Errorf("no data groups found")
	}
	if readout.EFSOD == "" {
		return doc, fmt.Errorf("EF_SOD is missing")
	}

	var err error
	doc.Mf.Lds1.Sod, err = document.NewSOD(utils.HexToBytes(readout.EFSOD))
	if err != nil {
		return doc, fmt.Errorf("failed to create SOD: %w", err)
	}

	if err := parseDataGroups(&doc, readout.DataGroups); err != nil {
		return doc, err
	}
	slog.Debug("Running passive authentication", "issuing_state", doc.Mf.Lds1.Dg1.Mrz.IssuingState)

	if err := passiveauth.PassiveAuth(&doc, r.certPool); err != nil {
		return doc, err
	}
	return doc, nil
}

// parseOptionalDataGroup parses an optional data group and skips it when it is malformed
func parseOptionalDataGroup[T any](dgName string, data []byte, parseFunc func([]byte) (*T, error)) *T {
	result, err := parseFunc(data)
	if err != nil {
		slog.Info("Skipping data group due to parsing error", "data_group", dgName, "error", err)
		return nil
	}
	return result
}

func parseDataGroups(doc *document.Document, dataGroups map[string]string) error {
	var err error

	for dg, hexValue := range dataGroups {
		dataGroupBytes := utils.HexToBytes(hexValue)

		switch dg {
		case "DG1":
			doc.Mf.Lds1.Dg1, err = document.NewDG1(dataGroupBytes)
			if err != nil {
				return fmt.Errorf("failed to create DG1 (mandatory): %w", err)
			}
		case "DG2":
			doc.Mf.Lds1.Dg2, err = document.NewDG2(dataGroupBytes)
			if err != nil {
				return fmt.Errorf("failed to create DG2 (mandatory): %w", err)
			}
		case "DG11":
			doc.Mf.Lds1.Dg11 = parseOptionalDataGroup("DG11", dataGroupBytes, document.NewDG11)
		case "DG12":
			doc.Mf.Lds1.Dg12 = parseOptionalDataGroup("DG12", dataGroupBytes, document.NewDG12)
		case "DG14":
			doc.Mf.Lds1.Dg14 = parseOptionalDataGroup("DG14", dataGroupBytes, document.NewDG14)
		case "DG15":
			// needed for active authentication, so it must parse when present
			doc.Mf.Lds1.Dg15, err = document.NewDG15(dataGroupBytes)
			if err != nil {
				return fmt.Errorf("failed to create DG15: %w", err)
			}
		default:
			slog.Debug("Ignoring data group", "data_group", dg)
		}
	}

	if doc.Mf.Lds1.Dg1 == nil {
		return fmt.Errorf("DG1 is mandatory but was not provided")
	}
	if doc.Mf.Lds1.Dg2 == nil {
		return fmt.Errorf("DG2 is mandatory but was not provided")
	}
	return nil
}

// activeAuthentication returns false without error when the chip or the
// client did not take part in active authentication.
func activeAuthentication(readout models.ChipReadout, nonce string, doc document.Document) (bool, error) {
	if nonce == "" || readout.ActiveAuthSignature == "" || doc.Mf.Lds1.Dg15 == nil {
		return false, nil
	}

	aa := activeauth.NewActiveAuth(nil, &doc)
	err := aa.ValidateActiveAuthSignature(utils.HexToBytes(readout.ActiveAuthSignature), utils.HexToBytes(nonce))
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *PassportReader) toRecognition(doc document.Document, active bool) (*capture.DocumentRecognition, error) {
	mrz := doc.Mf.Lds1.Dg1.Mrz

	dob, err := ParseDateOfBirth(mrz.DateOfBirth)
	if err != nil {
		return nil, fmt.Errorf("failed to parse date of birth: %w", err)
	}
	doe, err := ParseExpiryDate(mrz.DateOfExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to parse date of expiry: %w", err)
	}

	recognition := &capture.DocumentRecognition{
		Type: TypePassport,
		Fields: map[string]string{
			FieldDocumentNumber: mrz.DocumentNumber,
			FieldDocumentType:   mrz.DocumentCode,
			FieldFirstName:      mrz.NameOfHolder.Secondary,
			FieldLastName:       mrz.NameOfHolder.Primary,
			FieldNationality:    mrz.Nationality,
			FieldDateOfBirth:    dob.Format(time.DateOnly),
			FieldDateOfExpiry:   doe.Format(time.DateOnly),
			FieldGender:         mrz.Sex,
			FieldIssuingCountry: mrz.IssuingState,
			FieldActiveAuth:     BoolToYesNo(active),
			FieldExpired:        BoolToYesNo(doe.Before(r.now())),
		},
	}

	// a portrait that cannot be decoded is treated as no portrait
	portraits, err := images.DG2Portraits(doc.Mf.Lds1.Dg2)
	if err != nil {
		slog.Warn("Could not extract portrait from DG2", "error", err)
	} else if len(portraits) > 0 {
		recognition.FaceImage = portraits[0]
	}

	return recognition, nil
}
