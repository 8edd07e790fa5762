package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSink 将每段音频写为目录下的独立文件
type FileSink struct {
	Dir       string
	Extension string
}

// NewFileSink 创建文件接收端，目录不存在时自动创建
func NewFileSink(dir, ext string) (*FileSink, error) {
	if dir == "" {
		dir = "output"
	}
	if ext == "" {
		ext = ".wav"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &FileSink{Dir: dir, Extension: ext}, nil
}

// Path 标识对应的文件路径
func (s *FileSink) Path(id string) string {
	return filepath.Join(s.Dir, id+s.Extension)
}

// StoreAudio 实现 dispatch.AudioSink
//
// 先写临时文件再重命名，读者不会看到写了一半的产物。
func (s *FileSink) StoreAudio(id string, payload []byte) error {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: invalid artifact id %q", ErrStorageWrite, id)
	}

	final := s.Path(id)
	tmp, err := os.CreateTemp(s.Dir, "."+id+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	return nil
}
