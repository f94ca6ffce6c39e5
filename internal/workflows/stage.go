package workflows

import "fmt"

// Stage names one step of a workflow.
type Stage string

const (
	StageInputCheck          Stage = "input check"
	StageKeyResolution       Stage = "key resolution"
	StageChecksumPass        Stage = "checksum pass"
	StageCompressEncryptSign Stage = "compress, encrypt and sign"
	StageMetadataSign        Stage = "metadata signing"
	StageFinalAssembly       Stage = "final assembly"

	StageSignatureCheck    Stage = "signature check"
	StageKeyValidation     Stage = "key validation"
	StageChecksumCheck     Stage = "checksum check"
	StageDecrypt           Stage = "decryption"
	StagePostChecksumCheck Stage = "post-decryption checksum check"
	StagePortalCheck       Stage = "portal check"
	StageUpload            Stage = "upload"
)

// Progress weights of the encrypt stages.
const (
	checksumWeight = 0.20
	encryptWeight  = 0.75
)

// StageError reports the stage a workflow failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func failed(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}
