package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/diegose/limitd-go/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() ISerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements ISerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present. Boolean fields are
// carried entirely in their flag bit and take no payload bytes.
const (
	hasBucketType uint16 = 1 << 0
	hasKey        uint16 = 1 << 1
	hasCount      uint16 = 1 << 2
	hasAll        uint16 = 1 << 3
	hasConformant uint16 = 1 << 4
	hasDelayed    uint16 = 1 << 5
	hasRemaining  uint16 = 1 << 6
	hasResetAt    uint16 = 1 << 7
	hasLimit      uint16 = 1 << 8
	hasErrKind    uint16 = 1 << 9
	hasInstances  uint16 = 1 << 10
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.ISerializer)
// --------------------------------------------------------------------------

func (s binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, s.sizeBytes(msg))

	// Write message method
	result[0] = byte(msg.Method)

	// Flags are written last, once every present field is known
	var flags uint16

	// Set position for writing, start after method and flags
	pos := 3

	writeString := func(flag uint16, v string) {
		if v == "" {
			return
		}
		flags |= flag
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(v)))
		pos += 4
		copy(result[pos:pos+len(v)], v)
		pos += len(v)
	}

	writeUint32 := func(flag uint16, v uint32) {
		if v == 0 {
			return
		}
		flags |= flag
		binary.BigEndian.PutUint32(result[pos:pos+4], v)
		pos += 4
	}

	writeString(hasBucketType, msg.BucketType)
	writeString(hasKey, msg.Key)
	writeUint32(hasCount, msg.Count)

	if msg.All {
		flags |= hasAll
	}
	if msg.Conformant {
		flags |= hasConformant
	}
	if msg.Delayed {
		flags |= hasDelayed
	}

	writeUint32(hasRemaining, msg.Remaining)

	if msg.ResetAt > 0 {
		flags |= hasResetAt
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.ResetAt)
		pos += 8
	}

	writeUint32(hasLimit, msg.Limit)
	writeString(hasErrKind, msg.ErrKind)

	if len(msg.Instances) > 0 {
		flags |= hasInstances
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(msg.Instances)))
		pos += 4
		for _, inst := range msg.Instances {
			binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(inst.Key)))
			pos += 4
			copy(result[pos:pos+len(inst.Key)], inst.Key)
			pos += len(inst.Key)
			binary.BigEndian.PutUint32(result[pos:pos+4], inst.Remaining)
			pos += 4
			binary.BigEndian.PutUint64(result[pos:pos+8], inst.ResetAt)
			pos += 8
			binary.BigEndian.PutUint32(result[pos:pos+4], inst.Limit)
			pos += 4
		}
	}

	binary.BigEndian.PutUint16(result[1:3], flags)

	return result, nil
}

func (s binarySerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	if len(b) < 3 {
		return fmt.Errorf("binary serializer: message too short (%d bytes)", len(b))
	}

	msg.Method = common.Method(b[0])
	flags := binary.BigEndian.Uint16(b[1:3])
	pos := 3

	need := func(n int) error {
		if pos+n > len(b) {
			return fmt.Errorf("binary serializer: truncated message at offset %d", pos)
		}
		return nil
	}

	readString := func() (string, error) {
		if err := need(4); err != nil {
			return "", err
		}
		n := int(binary.BigEndian.Uint32(b[pos : pos+4]))
		pos += 4
		if err := need(n); err != nil {
			return "", err
		}
		v := string(b[pos : pos+n])
		pos += n
		return v, nil
	}

	readUint32 := func() (uint32, error) {
		if err := need(4); err != nil {
			return 0, err
		}
		v := binary.BigEndian.Uint32(b[pos : pos+4])
		pos += 4
		return v, nil
	}

	var err error
	if flags&hasBucketType != 0 {
		if msg.BucketType, err = readString(); err != nil {
			return err
		}
	}
	if flags&hasKey != 0 {
		if msg.Key, err = readString(); err != nil {
			return err
		}
	}
	if flags&hasCount != 0 {
		if msg.Count, err = readUint32(); err != nil {
			return err
		}
	}

	msg.All = flags&hasAll != 0
	msg.Conformant = flags&hasConformant != 0
	msg.Delayed = flags&hasDelayed != 0

	if flags&hasRemaining != 0 {
		if msg.Remaining, err = readUint32(); err != nil {
			return err
		}
	}
	if flags&hasResetAt != 0 {
		if err = need(8); err != nil {
			return err
		}
		msg.ResetAt = binary.BigEndian.Uint64(b[pos : pos+8])
		pos += 8
	}
	if flags&hasLimit != 0 {
		if msg.Limit, err = readUint32(); err != nil {
			return err
		}
	}
	if flags&hasErrKind != 0 {
		if msg.ErrKind, err = readString(); err != nil {
			return err
		}
	}

	if flags&hasInstances != 0 {
		count, err := readUint32()
		if err != nil {
			return err
		}
		// An instance occupies at least 20 bytes on the wire; a corrupt
		// count must not drive the allocation
		if maxCount := uint32((len(b) - pos) / 20); count > maxCount {
			return fmt.Errorf("binary serializer: instance count %d exceeds remaining payload", count)
		}
		msg.Instances = make([]common.BucketStatus, 0, count)
		for i := uint32(0); i < count; i++ {
			var inst common.BucketStatus
			if inst.Key, err = readString(); err != nil {
				return err
			}
			if inst.Remaining, err = readUint32(); err != nil {
				return err
			}
			if err = need(8); err != nil {
				return err
			}
			inst.ResetAt = binary.BigEndian.Uint64(b[pos : pos+8])
			pos += 8
			if inst.Limit, err = readUint32(); err != nil {
				return err
			}
			msg.Instances = append(msg.Instances, inst)
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the exact number of bytes the serialized message needs
func (s binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := 3 // method + flags

	if msg.BucketType != "" {
		size += 4 + len(msg.BucketType)
	}
	if msg.Key != "" {
		size += 4 + len(msg.Key)
	}
	if msg.Count > 0 {
		size += 4
	}
	if msg.Remaining > 0 {
		size += 4
	}
	if msg.ResetAt > 0 {
		size += 8
	}
	if msg.Limit > 0 {
		size += 4
	}
	if msg.ErrKind != "" {
		size += 4 + len(msg.ErrKind)
	}
	if len(msg.Instances) > 0 {
		size += 4
		for _, inst := range msg.Instances {
			size += 4 + len(inst.Key) + 4 + 8 + 4
		}
	}

	return size
}
