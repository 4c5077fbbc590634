package extractor

import (
	"bytes"
	"crypto/x509"
	"encoding/binary"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
	"github.com/pkg/errors"
	"software.sslmate.com/src/go-pkcs12"
)

// archiveEntry is an entry of an unlocked keystore archive. Cert is nil when
// the entry does not hold a usable X.509 certificate, Skip then says why.
type archiveEntry struct {
	Alias string
	Cert  *x509.Certificate
	Skip  string
}

// openArchiveFunc unlocks the archive data found at path with password.
type openArchiveFunc func(path string, data []byte, password string) ([]archiveEntry, error)

// readUnverifiedFunc lists the certificates of the archive data found at path
// without the password, hence without checking the archive integrity.
type readUnverifiedFunc func(path string, data []byte) ([]archiveEntry, error)

// openArchive opens PKCS#12 archives (.p12, .pfx) and Java keystores (any
// other extension).
func openArchive(path string, data []byte, password string) ([]archiveEntry, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".p12", ".pfx":
		return openPKCS12(data, password)
	default:
		return openJKS(data, password)
	}
}

func openJKS(data []byte, password string) ([]archiveEntry, error) {
	ks := keystore.New(keystore.WithOrderedAliases())
	if err := ks.Load(bytes.NewReader(data), []byte(password)); err != nil {
		return nil, errors.Wrap(err, "load java keystore")
	}

	var entries []archiveEntry
	for _, alias := range ks.Aliases() {
		var c keystore.Certificate
		switch {
		case ks.IsTrustedCertificateEntry(alias):
			e, err := ks.GetTrustedCertificateEntry(alias)
			if err != nil {
				entries = append(entries, archiveEntry{Alias: alias, Skip: err.Error()})
				continue
			}
			c = e.Certificate
		case ks.IsPrivateKeyEntry(alias):
			chain, err := ks.GetPrivateKeyEntryCertificateChain(alias)
			if err != nil {
				entries = append(entries, archiveEntry{Alias: alias, Skip: err.Error()})
				continue
			}
			if len(chain) == 0 {
				entries = append(entries, archiveEntry{Alias: alias, Skip: "empty certificate chain"})
				continue
			}
			c = chain[0]
		default:
			entries = append(entries, archiveEntry{Alias: alias, Skip: "not a certificate entry"})
			continue
		}
		entries = append(entries, parseEntry(alias, c.Type, c.Content))
	}
	return entries, nil
}

func parseEntry(alias, typ string, der []byte) archiveEntry {
	if typ != "X509" && typ != "X.509" {
		return archiveEntry{Alias: alias, Skip: "certificate type " + typ}
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return archiveEntry{Alias: alias, Skip: err.Error()}
	}
	return archiveEntry{Alias: alias, Cert: cert}
}

func openPKCS12(data []byte, password string) ([]archiveEntry, error) {
	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, errors.Wrap(err, "decode pkcs12")
		}
		// trust stores carry attributes ToPEM does not know about
		certs, tsErr := pkcs12.DecodeTrustStore(data, password)
		if tsErr != nil {
			return nil, errors.Wrap(err, "decode pkcs12")
		}
		entries := make([]archiveEntry, 0, len(certs))
		for _, c := range certs {
			entries = append(entries, archiveEntry{Alias: c.Subject.CommonName, Cert: c})
		}
		return entries, nil
	}

	var entries []archiveEntry
	for _, b := range blocks {
		if b.Type != "CERTIFICATE" {
			continue
		}
		e := parseEntry(b.Headers["friendlyName"], "X.509", b.Bytes)
		if e.Alias == "" && e.Cert != nil {
			e.Alias = e.Cert.Subject.CommonName
		}
		entries = append(entries, e)
	}
	return entries, nil
}

const (
	jksMagic             = 0xFEEDFEED
	jksPrivateKeyTag     = 1
	jksTrustedCertTag    = 2
	jksDigestLen         = 20
	jksDefaultCertType   = "X.509"
	jksMaxEntryCount     = 1 << 16
	jksMaxCertChainCount = 1 << 10
)

// readUnverified lists the certificates of a Java keystore without its
// password. PKCS#12 archives encrypt their certificates and cannot be read
// this way.
func readUnverified(path string, data []byte) ([]archiveEntry, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".p12", ".pfx":
		return nil, errors.New("pkcs12 certificates are encrypted")
	default:
		return readJKSUnverified(data)
	}
}

// readJKSUnverified decodes the entries of a Java keystore, ignoring the
// password-keyed digest that ends the file. Entries are returned sorted by
// alias, like openJKS does.
func readJKSUnverified(data []byte) ([]archiveEntry, error) {
	d := &jksDecoder{r: bytes.NewReader(data)}

	magic := d.uint32()
	version := d.uint32()
	count := d.uint32()
	if d.err != nil {
		return nil, errors.Wrap(d.err, "read java keystore header")
	}
	if magic != jksMagic {
		return nil, errors.Errorf("not a java keystore: magic %#x", magic)
	}
	if version != 1 && version != 2 {
		return nil, errors.Errorf("unsupported java keystore version %d", version)
	}
	if count > jksMaxEntryCount {
		return nil, errors.Errorf("too many java keystore entries: %d", count)
	}

	entries := make([]archiveEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		tag := d.uint32()
		alias := d.string()
		d.uint64() // creation time
		switch tag {
		case jksPrivateKeyTag:
			d.bytes() // encrypted key
			chainLen := d.uint32()
			if chainLen > jksMaxCertChainCount {
				return nil, errors.Errorf("certificate chain of %s too long: %d", alias, chainLen)
			}
			var first archiveEntry
			for j := uint32(0); j < chainLen; j++ {
				typ, der := d.certificate(version)
				if j == 0 {
					first = parseEntry(alias, typ, der)
				}
			}
			if chainLen == 0 {
				first = archiveEntry{Alias: alias, Skip: "empty certificate chain"}
			}
			entries = append(entries, first)
		case jksTrustedCertTag:
			typ, der := d.certificate(version)
			entries = append(entries, parseEntry(alias, typ, der))
		default:
			return nil, errors.Errorf("unsupported java keystore entry tag %d", tag)
		}
		if d.err != nil {
			return nil, errors.Wrapf(d.err, "read java keystore entry %d", i)
		}
	}
	if d.r.Len() != jksDigestLen {
		return nil, errors.Errorf("unexpected java keystore trailer of %d bytes", d.r.Len())
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Alias < entries[j].Alias })
	return entries, nil
}

// jksDecoder reads the big-endian fields of a Java keystore, the first error
// sticks.
type jksDecoder struct {
	r   *bytes.Reader
	err error
}

func (d *jksDecoder) read(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > d.r.Len() {
		d.err = io.ErrUnexpectedEOF
		return nil
	}
	b := make([]byte, n)
	_, d.err = io.ReadFull(d.r, b)
	return b
}

func (d *jksDecoder) uint16() uint16 {
	b := d.read(2)
	if d.err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (d *jksDecoder) uint32() uint32 {
	b := d.read(4)
	if d.err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *jksDecoder) uint64() uint64 {
	b := d.read(8)
	if d.err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (d *jksDecoder) string() string {
	return string(d.read(int(d.uint16())))
}

func (d *jksDecoder) bytes() []byte {
	n := d.uint32()
	if d.err != nil {
		return nil
	}
	if uint64(n) > uint64(d.r.Len()) {
		d.err = io.ErrUnexpectedEOF
		return nil
	}
	return d.read(int(n))
}

func (d *jksDecoder) certificate(version uint32) (typ string, der []byte) {
	typ = jksDefaultCertType
	if version == 2 {
		typ = d.string()
	}
	return typ, d.bytes()
}
