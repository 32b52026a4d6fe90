package models

import "strings"

// ProfileUpdate carries the optional fields of a profile patch. Nil means
// "leave unchanged"; a pointer to the empty string clears the field.
type ProfileUpdate struct {
	Name     *string
	Avatar   *string
	Username *string
}

// Empty reports whether the patch changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.Name == nil && u.Avatar == nil && u.Username == nil
}

// ChangedFields names the fields the patch touches, comma-separated, for
// change events and logs.
func (u ProfileUpdate) ChangedFields() string {
	var fields []string
	if u.Name != nil {
		fields = append(fields, "name")
	}
	if u.Avatar != nil {
		fields = append(fields, "avatar")
	}
	if u.Username != nil {
		fields = append(fields, "username")
	}
	return strings.Join(fields, ",")
}
