package decode

import "github.com/pkg/errors"

// ErrRecordTooShort is returned when a record's body is smaller than its
// kind's fixed layout requires.
var ErrRecordTooShort = errors.New("decode: record body too short")

func decodeDamage(b []byte) (Event, error) {
	const want = 41
	if len(b) < want {
		return nil, ErrRecordTooShort
	}

	value := readInt64(b, 24)
	if value <= 0 {
		return nil, nil
	}

	flags := b[32]

	return Damage{
		Actor:      readUint64(b, 0),
		Target:     readUint64(b, 8),
		Skill:      readUint64(b, 16),
		Value:      value,
		HPLessen:   readInt64(b, 33),
		IsCrit:     flags&flagCrit != 0,
		IsLucky:    flags&flagLucky != 0,
		CauseLucky: flags&flagCauseLucky != 0,
	}, nil
}

func decodeHealing(b []byte) (Event, error) {
	const want = 33
	if len(b) < want {
		return nil, ErrRecordTooShort
	}

	value := readInt64(b, 24)
	if value <= 0 {
		return nil, nil
	}

	flags := b[32]

	return Healing{
		Actor:      readUint64(b, 0),
		Target:     readUint64(b, 8),
		Skill:      readUint64(b, 16),
		Value:      value,
		IsCrit:     flags&flagCrit != 0,
		IsLucky:    flags&flagLucky != 0,
		CauseLucky: flags&flagCauseLucky != 0,
	}, nil
}

func decodeTakeDamage(b []byte) (Event, error) {
	const want = 17
	if len(b) < want {
		return nil, ErrRecordTooShort
	}

	flags := b[16]

	return TakeDamage{
		Actor:  readUint64(b, 0),
		Value:  readInt64(b, 8),
		Lethal: flags&flagLethal != 0,
	}, nil
}

func decodeDeath(b []byte) (Event, error) {
	const want = 8
	if len(b) < want {
		return nil, ErrRecordTooShort
	}

	return Death{Actor: readUint64(b, 0)}, nil
}

func decodeAttrUpdate(b []byte) (Event, error) {
	const want = 17
	if len(b) < want {
		return nil, ErrRecordTooShort
	}

	return AttrUpdate{
		Actor: readUint64(b, 0),
		Key:   AttrKey(b[8]),
		Value: readInt64(b, 9),
	}, nil
}

func decodeEntitySpawn(b []byte) (Event, error) {
	const fixed = 10
	if len(b) < fixed {
		return nil, ErrRecordTooShort
	}

	nameLen := int(readUint16(b, 8))
	if len(b) < fixed+nameLen {
		return nil, ErrRecordTooShort
	}

	return EntitySpawn{
		EntityID: readUint64(b, 0),
		Name:     string(b[fixed : fixed+nameLen]),
	}, nil
}

func decodeEntityInfo(b []byte) (Event, error) {
	const fixed = 26
	if len(b) < fixed {
		return nil, ErrRecordTooShort
	}

	nameLen := int(readUint16(b, 24))
	if len(b) < fixed+nameLen {
		return nil, ErrRecordTooShort
	}

	return EntityInfo{
		EntityID: readUint64(b, 0),
		HP:       readInt64(b, 8),
		MaxHP:    readInt64(b, 16),
		Name:     string(b[fixed : fixed+nameLen]),
	}, nil
}

func decodeSceneChange(b []byte) (Event, error) {
	const want = 8
	if len(b) < want {
		return nil, ErrRecordTooShort
	}

	return SceneChange{SceneID: readUint64(b, 0)}, nil
}

func decodeSelfIdentify(b []byte) (Event, error) {
	const want = 8
	if len(b) < want {
		return nil, ErrRecordTooShort
	}

	return SelfIdentify{Actor: readUint64(b, 0)}, nil
}
