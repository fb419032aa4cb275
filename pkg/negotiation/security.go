package negotiation

import (
	"crypto"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"strings"

	"github.com/arzzra/media_negotiation/pkg/media_sdp"
	"github.com/pion/dtls/v2/pkg/crypto/fingerprint"
	"github.com/pion/dtls/v2/pkg/crypto/selfsign"
	"github.com/pkg/errors"
)

// Длина мастер ключа и соли в байтах для наборов шифров (RFC 4568, RFC 7714)
var srtpKeySaltLen = map[media_sdp.SrtpSuite]int{
	media_sdp.SuiteAesCm128HmacSha1_80: 30,
	media_sdp.SuiteAesCm128HmacSha1_32: 30,
	media_sdp.SuiteAes192CmHmacSha1_80: 38,
	media_sdp.SuiteAes192CmHmacSha1_32: 38,
	media_sdp.SuiteAes256CmHmacSha1_80: 46,
	media_sdp.SuiteAes256CmHmacSha1_32: 46,
	media_sdp.SuiteAeadAes128Gcm:       28,
	media_sdp.SuiteAeadAes256Gcm:       44,
}

// наборы, предлагаемые в локальном предложении, по убыванию предпочтения
var offeredSuites = []media_sdp.SrtpSuite{
	media_sdp.SuiteAesCm128HmacSha1_80,
	media_sdp.SuiteAesCm128HmacSha1_32,
}

// newSrtpCrypto генерирует строку crypto со случайным мастер ключом
func newSrtpCrypto(tag int, suite media_sdp.SrtpSuite) (media_sdp.SrtpCrypto, error) {
	n, ok := srtpKeySaltLen[suite]
	if !ok {
		return media_sdp.SrtpCrypto{}, errors.Errorf("набор шифров %s не поддерживается", suite)
	}
	key := make([]byte, n)
	if _, err := rand.Read(key); err != nil {
		return media_sdp.SrtpCrypto{}, errors.Wrap(err, "генерация мастер ключа SRTP")
	}
	return media_sdp.SrtpCrypto{
		Tag:       tag,
		Algo:      suite,
		MasterKey: base64.StdEncoding.EncodeToString(key),
	}, nil
}

func offerCryptos() ([]media_sdp.SrtpCrypto, error) {
	out := make([]media_sdp.SrtpCrypto, 0, len(offeredSuites))
	for i, suite := range offeredSuites {
		c, err := newSrtpCrypto(i+1, suite)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// answerCrypto выбирает первую предложенную строку с известным набором
// и генерирует ответную с тем же тегом
func answerCrypto(offered []media_sdp.SrtpCrypto) (media_sdp.SrtpCrypto, bool, error) {
	for _, c := range offered {
		if _, ok := srtpKeySaltLen[c.Algo]; !ok {
			continue
		}
		local, err := newSrtpCrypto(c.Tag, c.Algo)
		if err != nil {
			return media_sdp.SrtpCrypto{}, false, err
		}
		if len(c.SessionParams) > 0 {
			local.SessionParams = append([]string(nil), c.SessionParams...)
		}
		return local, true, nil
	}
	return media_sdp.SrtpCrypto{}, false, nil
}

// certificateFingerprint значение a=fingerprint для сертификата: "sha-256 AB:CD:..."
func certificateFingerprint(cert tls.Certificate) (string, error) {
	if len(cert.Certificate) == 0 {
		return "", errors.New("сертификат DTLS пуст")
	}
	leaf := cert.Leaf
	if leaf == nil {
		parsed, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return "", errors.Wrap(err, "разбор сертификата DTLS")
		}
		leaf = parsed
	}
	value, err := fingerprint.Fingerprint(leaf, crypto.SHA256)
	if err != nil {
		return "", errors.Wrap(err, "вычисление отпечатка DTLS")
	}
	return "sha-256 " + strings.ToUpper(value), nil
}

func generateCertificate() (tls.Certificate, error) {
	cert, err := selfsign.GenerateSelfSigned()
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "генерация самоподписанного сертификата DTLS")
	}
	return cert, nil
}

// answerDtlsRole роль отвечающего по роли предлагающего (RFC 5763)
func answerDtlsRole(offered media_sdp.DtlsRole) media_sdp.DtlsRole {
	if offered == media_sdp.DtlsRoleIsClient {
		return media_sdp.DtlsRoleIsServer
	}
	return media_sdp.DtlsRoleIsClient
}
