package pgp

import (
	"bytes"
	"crypto"
	"fmt"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/msgcore/mrcore/internal/model"
)

// KeygenBits is the RSA modulus size for both the primary signing key and
// the encryption subkey (§4.D.1).
const KeygenBits = 2048

// RFC 4880 §9 hash algorithm identifiers, named the way gpgeez names them.
const (
	hashSHA256 uint8 = 8
	hashSHA384 uint8 = 9
	hashSHA512 uint8 = 10
	hashSHA224 uint8 = 11
	hashSHA1   uint8 = 2
)

// CreateKeypair implements create_keypair (§4.D.1): a primary RSA signing
// key plus an RSA encryption subkey, both KeygenBits wide, user id literally
// "<addr>". The primary self-signature carries, as hashed subpackets,
// creation time, zero key-lifetime (never expires), primary-userid, key
// flags SIGN_DATA|CERT_KEYS, the preferred symmetric/hash/compression
// algorithm lists and the MDC feature flag required by §4.D.1; the subkey
// binding signature carries only ENC_STORAGE|ENC_COMM flags and no
// preference subpackets.
func CreateKeypair(addr string) (public *Key, private *Key, err error) {
	seedProcessEntropy()

	cfg := &packet.Config{
		Rand:          Reader(),
		RSABits:       KeygenBits,
		DefaultHash:   crypto.SHA256,
		DefaultCipher: packet.CipherAES256,
		Time:          time.Now,
	}

	entity, err := openpgp.NewEntity("", "", addr, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("pgp: create_keypair: %w", err)
	}

	zero := uint32(0)
	yes := true
	for _, id := range entity.Identities {
		sig := id.SelfSignature
		sig.CreationTime = cfg.Time()
		sig.KeyLifetimeSecs = &zero
		sig.IsPrimaryId = &yes
		sig.FlagsValid = true
		sig.FlagSign = true
		sig.FlagCertify = true
		sig.FlagEncryptStorage = false
		sig.FlagEncryptCommunications = false
		sig.PreferredSymmetric = []uint8{
			uint8(packet.CipherAES256),
			uint8(packet.CipherAES128),
			uint8(packet.CipherCAST5),
			uint8(packet.Cipher3DES),
			0x01, // IDEA; not named in packet.CipherFunction, Autocrypt still lists it
		}
		sig.PreferredHash = []uint8{hashSHA256, hashSHA384, hashSHA512, hashSHA224, hashSHA1}
		sig.PreferredCompression = []uint8{uint8(packet.CompressionZLIB)}
		sig.MDC = true

		if err := sig.SignUserId(id.UserId.Id, entity.PrimaryKey, entity.PrivateKey, cfg); err != nil {
			return nil, nil, fmt.Errorf("pgp: create_keypair: %w", err)
		}
	}

	for i := range entity.Subkeys {
		subkey := &entity.Subkeys[i]
		subkey.Sig.FlagsValid = true
		subkey.Sig.FlagSign = false
		subkey.Sig.FlagCertify = false
		subkey.Sig.FlagEncryptStorage = true
		subkey.Sig.FlagEncryptCommunications = true
		subkey.Sig.PreferredSymmetric = nil
		subkey.Sig.PreferredHash = nil
		subkey.Sig.PreferredCompression = nil

		if err := subkey.Sig.SignKey(subkey.PublicKey, entity.PrivateKey, cfg); err != nil {
			return nil, nil, fmt.Errorf("pgp: create_keypair: %w", err)
		}
	}

	var pubBuf, privBuf bytes.Buffer
	if err := entity.Serialize(&pubBuf); err != nil {
		return nil, nil, fmt.Errorf("pgp: create_keypair: %w", err)
	}
	if err := entity.SerializePrivate(&privBuf, nil); err != nil {
		return nil, nil, fmt.Errorf("pgp: create_keypair: %w", err)
	}

	public = &Key{Kind: model.KeyPublic, Bytes: pubBuf.Bytes()}
	private = &Key{Kind: model.KeyPrivate, Bytes: privBuf.Bytes()}
	return public, private, nil
}
