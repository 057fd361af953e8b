package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-selfheal/internal/models"
)

// ToStruct converts any JSON-serialisable value into a protobuf Struct. Values must
// marshal to a JSON object.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("convert payload to struct: %w", err)
	}
	return out, nil
}

// FromStruct decodes a protobuf Struct into out using its JSON representation.
func FromStruct(s *structpb.Struct, out any) error {
	if s == nil {
		return fmt.Errorf("payload is nil")
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal struct: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// BackupList is the ListBackups payload.
type BackupList struct {
	Backups []models.BackupRef `json:"backups"`
}

// ToProtoBackups wraps refs in the ListBackups payload. A nil slice becomes an empty list.
func ToProtoBackups(refs []models.BackupRef) (*structpb.Struct, error) {
	if refs == nil {
		refs = []models.BackupRef{}
	}
	return ToStruct(BackupList{Backups: refs})
}

// FromProtoBackups unwraps the ListBackups payload.
func FromProtoBackups(s *structpb.Struct) ([]models.BackupRef, error) {
	var list BackupList
	if err := FromStruct(s, &list); err != nil {
		return nil, err
	}
	return list.Backups, nil
}
