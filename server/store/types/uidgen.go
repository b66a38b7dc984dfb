package types

import (
	"encoding/binary"

	sf "github.com/tinode/snowflake"
	"golang.org/x/crypto/xtea"
)

// UidGenerator holds snowflake and encryption parameters.
// Ids are generated by snowflake then encrypted with XTEA to make them
// random-looking instead of sequential.
type UidGenerator struct {
	seq    *sf.SnowFlake
	cipher *xtea.Cipher
}

// Init initializes the Uid generator.
func (ug *UidGenerator) Init(workerID uint, key []byte) error {
	var err error

	if ug.seq == nil {
		ug.seq, err = sf.NewSnowFlake(uint32(workerID))
		if err != nil {
			return err
		}
	}
	if ug.cipher == nil {
		ug.cipher, err = xtea.NewCipher(key)
		if err != nil {
			return err
		}
	}

	return nil
}

// Get generates a unique weakly-encrypted id.
func (ug *UidGenerator) Get() Uid {
	id, err := ug.seq.Next()
	if err != nil {
		return ZeroUid
	}

	src := make([]byte, 8)
	dst := make([]byte, 8)
	binary.LittleEndian.PutUint64(src, id)
	ug.cipher.Encrypt(dst, src)

	return Uid(binary.LittleEndian.Uint64(dst))
}

// GetStr generates a unique id and returns it as a base64-encoded string.
func (ug *UidGenerator) GetStr() string {
	return ug.Get().String()
}
