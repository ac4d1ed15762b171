package handler

import "encoding/json"

// nullable はJSONのキー省略とnull指定を区別するためのフィールド型。
// キーが存在すればSetがtrueになり、nullの場合はValueがnilになる。
type nullable[T any] struct {
	Set   bool
	Value *T
}

// UnmarshalJSON はjson.Unmarshalerを実装する。
func (n *nullable[T]) UnmarshalJSON(b []byte) error {
	n.Set = true
	if string(b) == "null" {
		n.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}
