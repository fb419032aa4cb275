package media_sdp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/dtls/v2/pkg/crypto/fingerprint"
)

// SrtpSuite имя набора шифров SRTP (RFC 4568)
type SrtpSuite string

const (
	SuiteAesCm128HmacSha1_80 SrtpSuite = "AES_CM_128_HMAC_SHA1_80"
	SuiteAesCm128HmacSha1_32 SrtpSuite = "AES_CM_128_HMAC_SHA1_32"
	SuiteAes192CmHmacSha1_80 SrtpSuite = "AES_192_CM_HMAC_SHA1_80"
	SuiteAes192CmHmacSha1_32 SrtpSuite = "AES_192_CM_HMAC_SHA1_32"
	SuiteAes256CmHmacSha1_80 SrtpSuite = "AES_256_CM_HMAC_SHA1_80"
	SuiteAes256CmHmacSha1_32 SrtpSuite = "AES_256_CM_HMAC_SHA1_32"
	SuiteAeadAes128Gcm       SrtpSuite = "AEAD_AES_128_GCM"
	SuiteAeadAes256Gcm       SrtpSuite = "AEAD_AES_256_GCM"
)

var knownSuites = map[SrtpSuite]struct{}{
	SuiteAesCm128HmacSha1_80: {},
	SuiteAesCm128HmacSha1_32: {},
	SuiteAes192CmHmacSha1_80: {},
	SuiteAes192CmHmacSha1_32: {},
	SuiteAes256CmHmacSha1_80: {},
	SuiteAes256CmHmacSha1_32: {},
	SuiteAeadAes128Gcm:       {},
	SuiteAeadAes256Gcm:       {},
}

// Известные сессионные параметры crypto строки
const (
	SessionParamUnencryptedSrtp     = "UNENCRYPTED_SRTP"
	SessionParamUnencryptedSrtcp    = "UNENCRYPTED_SRTCP"
	SessionParamUnauthenticatedSrtp = "UNAUTHENTICATED_SRTP"
)

// SrtpCrypto одна строка a=crypto
type SrtpCrypto struct {
	Tag           int
	Algo          SrtpSuite
	MasterKey     string
	SessionParams []string
}

// String формирует значение атрибута: "<tag> <suite> inline:<key> [params]"
func (c SrtpCrypto) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d %s inline:%s", c.Tag, c.Algo, c.MasterKey)
	for _, p := range c.SessionParams {
		sb.WriteByte(' ')
		sb.WriteString(p)
	}
	return sb.String()
}

func (c SrtpCrypto) samePolicy(other SrtpCrypto) bool {
	if c.Tag != other.Tag || c.Algo != other.Algo || len(c.SessionParams) != len(other.SessionParams) {
		return false
	}
	for i := range c.SessionParams {
		if c.SessionParams[i] != other.SessionParams[i] {
			return false
		}
	}
	return true
}

func (c SrtpCrypto) clone() SrtpCrypto {
	if c.SessionParams != nil {
		c.SessionParams = append([]string(nil), c.SessionParams...)
	}
	return c
}

// ParseSrtpCrypto разбирает значение атрибута crypto.
// Ключ допускает суффиксы времени жизни и MKI через '|', они отбрасываются.
func ParseSrtpCrypto(value string) (SrtpCrypto, error) {
	fields := strings.Fields(value)
	if len(fields) < 3 {
		return SrtpCrypto{}, NewSDPError(ErrorCodeInvalidCrypto, "слишком мало полей в crypto: %q", value)
	}
	tag, err := strconv.Atoi(fields[0])
	if err != nil || tag < 0 {
		return SrtpCrypto{}, NewSDPError(ErrorCodeInvalidCrypto, "некорректный тег crypto: %q", fields[0])
	}
	suite := SrtpSuite(fields[1])
	if _, ok := knownSuites[suite]; !ok {
		return SrtpCrypto{}, NewSDPError(ErrorCodeInvalidCrypto, "неизвестный набор шифров %q", fields[1])
	}
	key, ok := strings.CutPrefix(fields[2], "inline:")
	if !ok {
		return SrtpCrypto{}, NewSDPError(ErrorCodeInvalidCrypto, "ожидался метод ключа inline: %q", fields[2])
	}
	key, _, _ = strings.Cut(key, "|")
	if key == "" {
		return SrtpCrypto{}, NewSDPError(ErrorCodeInvalidCrypto, "пустой мастер ключ")
	}
	c := SrtpCrypto{Tag: tag, Algo: suite, MasterKey: key}
	if len(fields) > 3 {
		c.SessionParams = append([]string(nil), fields[3:]...)
	}
	return c, nil
}

// ParseFingerprint разбирает "<hash> <hex>" и проверяет алгоритм хеширования
func ParseFingerprint(value string) (string, error) {
	algo, hex, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok || strings.TrimSpace(hex) == "" {
		return "", NewSDPError(ErrorCodeInvalidFingerprint, "некорректный отпечаток: %q", value)
	}
	if _, err := fingerprint.HashFromString(algo); err != nil {
		return "", WrapSDPError(ErrorCodeInvalidFingerprint, "", err, "неподдерживаемый алгоритм отпечатка %q", algo)
	}
	return algo + " " + strings.TrimSpace(hex), nil
}

// SetupAttributeForDtlsRole возвращает значение a=setup для роли.
// Для DtlsRoleInvalid атрибут не выводится.
func SetupAttributeForDtlsRole(role DtlsRole) (string, bool) {
	switch role {
	case DtlsRoleIsClient:
		return "active", true
	case DtlsRoleIsServer:
		return "passive", true
	case DtlsRoleUnset:
		return "actpass", true
	}
	return "", false
}

// DtlsRoleFromSetupAttribute обратное отображение a=setup
func DtlsRoleFromSetupAttribute(value string) DtlsRole {
	switch strings.TrimSpace(value) {
	case "active":
		return DtlsRoleIsClient
	case "passive":
		return DtlsRoleIsServer
	case "actpass":
		return DtlsRoleUnset
	}
	return DtlsRoleInvalid
}
