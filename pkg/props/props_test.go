package props

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/goopsie/metexpatch/pkg/errs"
	"github.com/goopsie/metexpatch/pkg/game"
)

type nameList []string

func (n *nameList) Name(i int) (string, error) {
	if i < 0 || i >= len(*n) {
		return "", fmt.Errorf("name %d out of range", i)
	}
	return (*n)[i], nil
}

func (n *nameList) AddName(name string) int {
	for i, s := range *n {
		if s == name {
			return i
		}
	}
	*n = append(*n, name)
	return len(*n) - 1
}

func textureBag() *Bag {
	return &Bag{Props: []Property{
		{Name: "SizeX", Type: TypeInt, Kind: KindInt, Int: 512},
		{Name: "SizeY", Type: TypeInt, Kind: KindInt, Int: 256},
		{Name: "Format", Type: TypeByte, Kind: KindByte, EnumType: "EPixelFormat", Value: "PF_DXT5"},
		{Name: "SRGB", Type: TypeBool, Kind: KindBool, Bool: true},
		{Name: "LODBias", Type: "FloatProperty", Kind: KindRaw, Raw: []byte{0, 0, 0x80, 0x3f}},
		{Name: "TextureFileCacheName", Type: TypeName, Kind: KindName, Value: "Textures", ValueNumber: 3},
		{Name: "TFCFileGuid", Type: TypeStruct, Kind: KindStruct, StructName: "Guid", Raw: bytes.Repeat([]byte{7}, 16)},
	}}
}

func TestRoundTrip(t *testing.T) {
	for _, g := range []game.Game{game.ME1, game.ME2, game.ME3} {
		t.Run(g.String(), func(t *testing.T) {
			names := &nameList{}
			data := textureBag().Encode(names, g)

			bag, n, err := Decode(append(data, 0xEE, 0xEE), names, g)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if n != len(data) {
				t.Errorf("consumed: got %d, want %d", n, len(data))
			}
			if len(bag.Props) != 7 {
				t.Fatalf("props: got %d, want 7", len(bag.Props))
			}
			if again := bag.Encode(names, g); !bytes.Equal(again, data) {
				t.Error("re-encode differs")
			}

			if v, ok := bag.Int("SizeX"); !ok || v != 512 {
				t.Errorf("SizeX: got %d, %v", v, ok)
			}
			if v, ok := bag.NameValue("Format"); !ok || v != "PF_DXT5" {
				t.Errorf("Format: got %q, %v", v, ok)
			}
			if v, ok := bag.NameValue("TextureFileCacheName"); !ok || v != "Textures_2" {
				t.Errorf("TextureFileCacheName: got %q, %v", v, ok)
			}
			if p, _ := bag.Get("SRGB"); !p.Bool {
				t.Error("SRGB lost")
			}
			if s, raw, ok := bag.Struct("TFCFileGuid"); !ok || s != "Guid" || len(raw) != 16 {
				t.Errorf("TFCFileGuid: got %q %d %v", s, len(raw), ok)
			}
		})
	}
}

func TestBoolWidth(t *testing.T) {
	bag := &Bag{Props: []Property{{Name: "b", Type: TypeBool, Kind: KindBool, Bool: true}}}
	me3 := bag.Encode(&nameList{}, game.ME3)
	me2 := bag.Encode(&nameList{}, game.ME2)
	if len(me2)-len(me3) != 3 {
		t.Errorf("bool widths: ME3 %d bytes, ME2 %d bytes", len(me3), len(me2))
	}
}

func TestSetters(t *testing.T) {
	bag := textureBag()

	if err := bag.SetInt("SizeX", 1024); err != nil {
		t.Fatal(err)
	}
	if v, _ := bag.Int("SizeX"); v != 1024 {
		t.Errorf("SizeX: got %d", v)
	}
	if err := bag.SetInt("MipTailBaseIdx", 9); err != nil {
		t.Fatal(err)
	}
	if bag.Props[len(bag.Props)-1].Name != "MipTailBaseIdx" {
		t.Error("new property not appended")
	}

	if err := bag.SetName("TextureFileCacheName", "CustTextures0"); err != nil {
		t.Fatal(err)
	}
	if v, _ := bag.NameValue("TextureFileCacheName"); v != "CustTextures0" {
		t.Errorf("TextureFileCacheName: got %q", v)
	}

	guid := bytes.Repeat([]byte{1}, 16)
	if err := bag.SetStruct("TFCFileGuid", "Guid", guid); err != nil {
		t.Fatal(err)
	}
	guid[0] = 9
	if _, raw, _ := bag.Struct("TFCFileGuid"); raw[0] != 1 {
		t.Error("SetStruct kept a reference to the caller's slice")
	}

	if err := bag.SetInt("Format", 1); !errors.Is(err, errs.ErrFormat) {
		t.Errorf("expected type mismatch, got %v", err)
	}

	if !bag.Remove("SRGB") || bag.Has("SRGB") {
		t.Error("Remove failed")
	}
	if bag.Remove("SRGB") {
		t.Error("Remove of missing property reported true")
	}
}

func TestDecodeErrors(t *testing.T) {
	names := &nameList{"None", "SizeX", "IntProperty"}

	t.Run("Truncated", func(t *testing.T) {
		data := textureBag().Encode(names, game.ME3)
		if _, _, err := Decode(data[:30], names, game.ME3); !errors.Is(err, ErrMalformed) {
			t.Errorf("expected ErrMalformed, got %v", err)
		}
	})

	t.Run("BadNameIndex", func(t *testing.T) {
		data := binary.LittleEndian.AppendUint32(nil, 99)
		data = binary.LittleEndian.AppendUint32(data, 0)
		if _, _, err := Decode(data, names, game.ME3); !errors.Is(err, ErrMalformed) {
			t.Errorf("expected ErrMalformed, got %v", err)
		}
	})

	t.Run("NegativeSize", func(t *testing.T) {
		var data []byte
		for _, v := range []int32{1, 0, 2, 0, -5, 0} {
			data = binary.LittleEndian.AppendUint32(data, uint32(v))
		}
		if _, _, err := Decode(data, names, game.ME3); !errors.Is(err, ErrMalformed) {
			t.Errorf("expected ErrMalformed, got %v", err)
		}
	})
}
