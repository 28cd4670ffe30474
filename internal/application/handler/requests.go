package handler

import (
	"strings"

	dErrors "certreg/pkg/domain-errors"
)

type createRequest struct {
	CertificateType string `json:"certificate_type"`
	Class           string `json:"certificate_class"`
	Description     string `json:"description"`
}

func (r *createRequest) Validate() error {
	r.CertificateType = strings.ToLower(strings.TrimSpace(r.CertificateType))
	r.Class = strings.TrimSpace(r.Class)
	if r.CertificateType == "" {
		return dErrors.New(dErrors.CodeValidation, "certificate_type is required")
	}
	return nil
}

type updateRequest struct {
	Class       string `json:"certificate_class"`
	Description string `json:"description"`
	CurrentStep int    `json:"current_step"`
}

func (r *updateRequest) Validate() error {
	r.Class = strings.TrimSpace(r.Class)
	if r.CurrentStep < 0 || r.CurrentStep > 5 {
		return dErrors.New(dErrors.CodeValidation, "current_step must be between 1 and 5")
	}
	return nil
}

type payRequest struct {
	ApplicationIDs []int64 `json:"application_ids"`
}

func (r *payRequest) Validate() error {
	if len(r.ApplicationIDs) == 0 {
		return dErrors.New(dErrors.CodeValidation, "application_ids must not be empty")
	}
	return nil
}

type companyInfoRequest struct {
	CompanyName        string `json:"company_name"`
	RegistrationNumber string `json:"registration_number"`
	Address            string `json:"address"`
	Phone              string `json:"phone"`
	Email              string `json:"email"`
}

func (r *companyInfoRequest) Validate() error {
	r.CompanyName = strings.TrimSpace(r.CompanyName)
	r.RegistrationNumber = strings.TrimSpace(r.RegistrationNumber)
	r.Address = strings.TrimSpace(r.Address)
	if r.CompanyName == "" || r.RegistrationNumber == "" || r.Address == "" {
		return dErrors.New(dErrors.CodeValidation,
			"company_name, registration_number and address are required")
	}
	return nil
}

type directorRequest struct {
	FullName   string `json:"full_name"`
	NationalID string `json:"national_id"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
}

func (r *directorRequest) Validate() error {
	r.FullName = strings.TrimSpace(r.FullName)
	r.NationalID = strings.TrimSpace(r.NationalID)
	if r.FullName == "" || r.NationalID == "" {
		return dErrors.New(dErrors.CodeValidation, "full_name and national_id are required")
	}
	return nil
}

type documentRequest struct {
	DocumentType string `json:"document_type"`
	FileName     string `json:"file_name"`
	SizeBytes    int64  `json:"size_bytes"`
}

func (r *documentRequest) Validate() error {
	r.DocumentType = strings.TrimSpace(r.DocumentType)
	r.FileName = strings.TrimSpace(r.FileName)
	if r.DocumentType == "" || r.FileName == "" {
		return dErrors.New(dErrors.CodeValidation, "document_type and file_name are required")
	}
	return nil
}
