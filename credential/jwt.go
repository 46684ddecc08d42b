// Package credential signs IRMA issuance requests for verified identities.
package credential

import (
	"crypto/rsa"
	"errors"
	"os"
	"strconv"
	"time"

	"go-identity-flow/document"

	"github.com/golang-jwt/jwt/v4"
	irma "github.com/privacybydesign/irmago"
)

var ErrNothingToIssue = errors.New("no attributes to issue")

type JwtCreator interface {
	CreateIdentityJwt(claims IdentityClaims) (jwt string, err error)
}

// IdentityClaims is what a successful flow knows about the person.
type IdentityClaims struct {
	ExternalID string
	// Document fields, keyed by the document package field names
	Fields map[string]string
}

// attribute names of the issued credential by document field
var attributeNames = map[string]string{
	document.FieldDocumentNumber: "documentNumber",
	document.FieldDocumentType:   "documentType",
	document.FieldFirstName:      "firstName",
	document.FieldLastName:       "lastName",
	document.FieldNationality:    "nationality",
	document.FieldDateOfBirth:    "dateOfBirth",
	document.FieldDateOfExpiry:   "dateOfExpiry",
	document.FieldGender:         "gender",
	document.FieldIssuingCountry: "country",
	document.FieldActiveAuth:     "activeAuthentication",
}

var ageThresholds = []int{12, 16, 18, 21, 65}

func NewIrmaJwtCreator(privateKeyPath string,
	issuerId string,
	credential string,
	sdJwtBatchSize uint,
) (*DefaultJwtCreator, error) {
	keyBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, err
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(keyBytes)
	if err != nil {
		return nil, err
	}

	return &DefaultJwtCreator{
		issuerId:       issuerId,
		privateKey:     privateKey,
		credential:     credential,
		sdJwtBatchSize: sdJwtBatchSize,
		now:            time.Now,
	}, nil
}

type DefaultJwtCreator struct {
	privateKey     *rsa.PrivateKey
	issuerId       string
	credential     string
	sdJwtBatchSize uint
	now            func() time.Time
}

func (jc *DefaultJwtCreator) CreateIdentityJwt(claims IdentityClaims) (string, error) {
	attributes := jc.attributes(claims)
	if len(attributes) == 0 {
		return "", ErrNothingToIssue
	}

	return irma.SignSessionRequest(
		jc.createIssuanceRequest(attributes),
		jwt.GetSigningMethod(jwt.SigningMethodRS256.Alg()),
		jc.privateKey,
		jc.issuerId,
	)
}

func (jc *DefaultJwtCreator) attributes(claims IdentityClaims) map[string]string {
	attributes := make(map[string]string)
	for field, name := range attributeNames {
		if v := claims.Fields[field]; v != "" {
			attributes[name] = v
		}
	}
	if len(attributes) == 0 {
		return nil
	}
	if claims.ExternalID != "" {
		attributes["externalId"] = claims.ExternalID
	}

	if dob, err := time.Parse(time.DateOnly, claims.Fields[document.FieldDateOfBirth]); err == nil {
		attributes["yearOfBirth"] = dob.Format("2006")
		for _, years := range ageThresholds {
			attributes["over"+strconv.Itoa(years)] = document.BoolToYesNo(isOver(dob, jc.now(), years))
		}
	}
	return attributes
}

func isOver(dob, now time.Time, years int) bool {
	return !dob.AddDate(years, 0, 0).After(now)
}

// createIssuanceRequest builds a request valid for one year.
func (jc *DefaultJwtCreator) createIssuanceRequest(attributes map[string]string) *irma.IssuanceRequest {
	validity := irma.Timestamp(time.Unix(jc.now().AddDate(1, 0, 0).Unix(), 0))

	return irma.NewIssuanceRequest([]*irma.CredentialRequest{
		{
			CredentialTypeID: irma.NewCredentialTypeIdentifier(jc.credential),
			Attributes:       attributes,
			SdJwtBatchSize:   jc.sdJwtBatchSize,
			Validity:         &validity,
		},
	})
}
