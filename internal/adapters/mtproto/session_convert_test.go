package mtproto

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestImportSessionKeepsGotdJSON(t *testing.T) {
	raw := []byte(`  {"Version":1,"Data":{"DC":2}}  `)
	imported, err := ImportSession(raw)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if imported.Converted() || imported.Format != FormatGotd {
		t.Fatalf("ожидали формат gotd, получили %s", imported.Format)
	}
	if string(imported.Data) != `{"Version":1,"Data":{"DC":2}}` {
		t.Fatalf("неожиданные данные: %s", imported.Data)
	}
}

func TestImportSessionConvertsTelethonRows(t *testing.T) {
	key := strings.Repeat("ab", 256)
	raw := []byte(`[{"dc_id": 2, "server_address": "149.154.167.51", "port": 443, "auth_key": "` + key + `"}]`)

	imported, err := ImportSession(raw)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if imported.Format != FormatTelethonRows {
		t.Fatalf("ожидали формат %s, получили %s", FormatTelethonRows, imported.Format)
	}

	var decoded struct {
		Version int
		Data    struct {
			DC      int
			Addr    string
			AuthKey []byte
		}
	}
	if err := json.Unmarshal(imported.Data, &decoded); err != nil {
		t.Fatalf("результат не JSON: %v", err)
	}
	if decoded.Version != 1 || decoded.Data.DC != 2 || decoded.Data.Addr != "149.154.167.51:443" {
		t.Fatalf("неожиданная сессия: %+v", decoded)
	}
	if len(decoded.Data.AuthKey) != 256 {
		t.Fatalf("ожидали ключ 256 байт, получили %d", len(decoded.Data.AuthKey))
	}
}

func TestImportSessionRejectsGarbage(t *testing.T) {
	if _, err := ImportSession([]byte("   ")); err == nil {
		t.Fatalf("ожидали ошибку для пустой сессии")
	}
	if _, err := ImportSession([]byte(`{"foo": "bar"}`)); !errors.Is(err, ErrUnsupportedSessionFormat) {
		t.Fatalf("ожидали ErrUnsupportedSessionFormat, получили %v", err)
	}
	if _, err := ImportSession([]byte(`[{"dc_id": 2, "server_address": "1.1.1.1", "port": 443, "auth_key": "zz"}]`)); !errors.Is(err, ErrUnsupportedSessionFormat) {
		t.Fatalf("ожидали ErrUnsupportedSessionFormat, получили %v", err)
	}
}
