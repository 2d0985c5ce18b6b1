package mtproto

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gotd/td/crypto"
	"github.com/gotd/td/session"
	"github.com/gotd/td/tg"
)

// ErrUnsupportedSessionFormat возвращается, если формат сессии не распознан.
var ErrUnsupportedSessionFormat = errors.New("неподдерживаемый формат MTProto-сессии")

// Форматы сессий, которые принимает импорт.
const (
	FormatGotd            = "gotd"
	FormatTelethonAccount = "telethon_account"
	FormatTelethonRows    = "telethon_rows"
	FormatTelethonString  = "telethon_string"
)

// ImportedSession — сессия в JSON-формате gotd, готовая к сохранению.
type ImportedSession struct {
	Data   []byte
	Format string
}

// Converted сообщает, что исходные данные были в другом формате.
func (s ImportedSession) Converted() bool {
	return s.Format != FormatGotd
}

type sessionDecoder struct {
	format string
	decode func([]byte) ([]byte, error)
}

var sessionDecoders = []sessionDecoder{
	{format: FormatGotd, decode: decodeGotdJSON},
	{format: FormatTelethonAccount, decode: decodeTelethonAccount},
	{format: FormatTelethonRows, decode: decodeTelethonRows},
	{format: FormatTelethonString, decode: decodeTelethonString},
}

// ImportSession приводит выгруженную сессию к формату session.Storage из gotd.
// Принимает JSON gotd, строковую сессию Telethon и её JSON-выгрузки.
func ImportSession(raw []byte) (ImportedSession, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ImportedSession{}, errors.New("MTProto-сессия пуста")
	}
	for _, d := range sessionDecoders {
		data, err := d.decode(trimmed)
		if err == nil {
			return ImportedSession{Data: data, Format: d.format}, nil
		}
	}
	return ImportedSession{}, ErrUnsupportedSessionFormat
}

func decodeGotdJSON(raw []byte) ([]byte, error) {
	var envelope struct {
		Version int `json:"Version"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	if envelope.Version == 0 {
		return nil, errors.New("нет версии gotd")
	}
	return append([]byte(nil), raw...), nil
}

func decodeTelethonAccount(raw []byte) ([]byte, error) {
	var account struct {
		ExtraParams string `json:"extra_params"`
	}
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, err
	}
	if account.ExtraParams == "" {
		return nil, errors.New("нет extra_params")
	}
	return decodeTelethonString([]byte(account.ExtraParams))
}

// decodeTelethonRows разбирает выгрузку таблицы sessions из SQLite-файла Telethon.
func decodeTelethonRows(raw []byte) ([]byte, error) {
	var rows []struct {
		DCID          int    `json:"dc_id"`
		ServerAddress string `json:"server_address"`
		Port          int    `json:"port"`
		AuthKey       string `json:"auth_key"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.AuthKey == "" || row.ServerAddress == "" || row.Port == 0 {
			continue
		}
		return sessionFromAuthKey(row.DCID, row.ServerAddress, row.Port, row.AuthKey)
	}
	return nil, errors.New("нет строк с ключом авторизации")
}

func decodeTelethonString(raw []byte) ([]byte, error) {
	candidate := strings.Trim(strings.TrimSpace(string(raw)), "\"'")
	if candidate == "" {
		return nil, errors.New("пустая строковая сессия")
	}

	data, err := session.TelethonSession(candidate)
	if err != nil {
		return nil, err
	}
	if data.Config.ThisDC == 0 {
		data.Config.ThisDC = data.DC
	}
	if data.Addr != "" && len(data.Config.DCOptions) == 0 {
		if host, portStr, err := net.SplitHostPort(data.Addr); err == nil {
			if port, err := strconv.Atoi(portStr); err == nil {
				data.Config.DCOptions = []tg.DCOption{{ID: data.DC, IPAddress: host, Port: port}}
			}
		}
	}
	return encodeSession(*data)
}

func sessionFromAuthKey(dcID int, host string, port int, authKeyHex string) ([]byte, error) {
	rawKey, err := hex.DecodeString(strings.Trim(strings.TrimSpace(authKeyHex), "'\""))
	if err != nil {
		return nil, fmt.Errorf("ключ авторизации: %w", err)
	}
	var key crypto.Key
	if len(rawKey) != len(key) {
		return nil, fmt.Errorf("длина ключа авторизации %d байт", len(rawKey))
	}
	copy(key[:], rawKey)
	id := key.WithID().ID

	return encodeSession(session.Data{
		Config: session.Config{
			ThisDC:    dcID,
			DCOptions: []tg.DCOption{{ID: dcID, IPAddress: host, Port: port}},
		},
		DC:        dcID,
		Addr:      net.JoinHostPort(host, strconv.Itoa(port)),
		AuthKey:   append([]byte(nil), key[:]...),
		AuthKeyID: append([]byte(nil), id[:]...),
	})
}

func encodeSession(data session.Data) ([]byte, error) {
	return json.Marshal(struct {
		Version int          `json:"Version"`
		Data    session.Data `json:"Data"`
	}{Version: 1, Data: data})
}
