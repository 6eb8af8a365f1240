package triage

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/tidwall/gjson"

	"github.com/coff33ninja/vrm-auto-scraper/internal/catalog"
)

var archiveExtensions = map[string]string{
	".zip": "zip",
	".rar": "rar",
	".7z":  "7z",
}

// ConvertibleExtensions are alternate 3D formats the converter accepts.
var ConvertibleExtensions = []string{".glb", ".gltf", ".fbx", ".obj", ".blend"}

// Ext returns the lowercased extension of path including the dot.
func Ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// IsArchive reports whether ext names a supported archive format.
func IsArchive(ext string) bool {
	_, ok := archiveExtensions[strings.ToLower(ext)]
	return ok
}

// IsConvertible reports whether ext is an alternate 3D format.
func IsConvertible(ext string) bool {
	ext = strings.ToLower(ext)
	for _, candidate := range ConvertibleExtensions {
		if candidate == ext {
			return true
		}
	}
	return false
}

// KindForExt maps an extension to a catalog kind. Unrecognized extensions
// become their own kind without the dot.
func KindForExt(ext string) catalog.Kind {
	ext = strings.ToLower(ext)
	switch {
	case ext == ".vrm":
		return catalog.KindVRM
	case IsArchive(ext):
		return catalog.KindArchive
	case IsConvertible(ext):
		return catalog.KindNeedsConversion
	case ext == "" || ext == ".":
		return catalog.KindUnknown
	default:
		return catalog.Kind(strings.TrimPrefix(ext, "."))
	}
}

// SniffExtension inspects file content and returns the extension it implies,
// or "" when nothing useful is recognized. glTF binaries carrying VRM
// extensions report ".vrm".
func SniffExtension(path string) string {
	if IsVRMBinary(path) {
		return ".vrm"
	}
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return ""
	}
	for m := mtype; m != nil; m = m.Parent() {
		switch ext := m.Extension(); ext {
		case ".zip", ".7z", ".rar", ".glb", ".gltf", ".obj", ".fbx", ".blend":
			return ext
		}
	}
	if mtype.Is("application/octet-stream") || mtype.Is("text/plain") {
		return ""
	}
	return mtype.Extension()
}

const (
	glbMagic     = 0x46546c67 // "glTF"
	glbChunkJSON = 0x4e4f534a // "JSON"
	glbMaxJSON   = 64 << 20
)

// IsVRMBinary reports whether path is a glTF binary whose JSON chunk
// declares the VRM 0.x or VRM 1.0 extension.
func IsVRMBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	var header [20]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return false
	}
	if binary.LittleEndian.Uint32(header[0:4]) != glbMagic {
		return false
	}
	chunkLen := binary.LittleEndian.Uint32(header[12:16])
	if binary.LittleEndian.Uint32(header[16:20]) != glbChunkJSON || chunkLen == 0 || chunkLen > glbMaxJSON {
		return false
	}
	chunk := make([]byte, chunkLen)
	if _, err := io.ReadFull(f, chunk); err != nil {
		return false
	}
	chunk = bytes.TrimRight(chunk, " \x00")
	if !gjson.ValidBytes(chunk) {
		return false
	}
	doc := gjson.ParseBytes(chunk)
	if doc.Get("extensions.VRM").Exists() || doc.Get("extensions.VRMC_vrm").Exists() {
		return true
	}
	for _, used := range doc.Get("extensionsUsed").Array() {
		if name := used.String(); name == "VRM" || name == "VRMC_vrm" {
			return true
		}
	}
	return false
}
