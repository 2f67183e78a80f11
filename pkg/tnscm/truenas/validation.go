package truenas

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/tnscm/tnscm/pkg/tnscm/model"
)

func ValidateCreateCertificateRequest(req CreateCertificateRequest) error {
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Name, validation.Required),
		validation.Field(&req.CreateType, validation.Required, validation.In(CreateTypeInternal, CreateTypeImportedCSR)),
		validation.Field(&req.SignedBy, validation.Required.When(req.CreateType == CreateTypeInternal)),
		validation.Field(&req.Lifetime, validation.When(req.CreateType == CreateTypeInternal, validation.Required, validation.Min(1))),
		validation.Field(&req.CSR, validation.Required.When(req.CreateType == CreateTypeImportedCSR)),
		validation.Field(&req.PrivateKey, validation.Required.When(req.CreateType == CreateTypeImportedCSR)),
	); err != nil {
		return fmt.Errorf("%s%w", err.Error(), model.ErrInvalidParameter)
	}

	return nil
}

func ValidateSignCSRRequest(req SignCSRRequest) error {
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.CAID, validation.Required),
		validation.Field(&req.CSRCertID, validation.Required),
		validation.Field(&req.Name, validation.Required),
	); err != nil {
		return fmt.Errorf("%s%w", err.Error(), model.ErrInvalidParameter)
	}

	return nil
}
