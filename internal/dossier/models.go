// Package dossier holds the supporting material an application needs before
// it may be submitted: company details, at least one director, and at least
// one uploaded document.
package dossier

import "time"

type CompanyInfo struct {
	ID                 int64     `json:"id"`
	ApplicationID      int64     `json:"application_id"`
	CompanyName        string    `json:"company_name"`
	RegistrationNumber string    `json:"registration_number"`
	Address            string    `json:"address"`
	Phone              string    `json:"phone,omitempty"`
	Email              string    `json:"email,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type Director struct {
	ID            int64     `json:"id"`
	ApplicationID int64     `json:"application_id"`
	FullName      string    `json:"full_name"`
	NationalID    string    `json:"national_id"`
	Phone         string    `json:"phone,omitempty"`
	Email         string    `json:"email,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type Document struct {
	ID            int64     `json:"id"`
	ApplicationID int64     `json:"application_id"`
	DocumentType  string    `json:"document_type"`
	FileName      string    `json:"file_name"`
	StoragePath   string    `json:"-"`
	SizeBytes     int64     `json:"size_bytes"`
	UploadedAt    time.Time `json:"uploaded_at"`
}

// Section names reported by the completeness check when material is missing.
const (
	SectionCompanyInfo = "company_info"
	SectionDirectors   = "directors"
	SectionDocuments   = "documents"
)
