package gatt

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var ErrMalformedSnapshot = errors.New("malformed attribute table snapshot")

// Save writes t to w in the snapshot text format. Services, characteristics and descriptors are
// written in table order, so Load reproduces t exactly.
func Save(w io.Writer, t *Table) error {
	bw := bufio.NewWriter(w)
	for _, s := range t.Services {
		fmt.Fprintf(bw, "service uuid %s start %d end %d\n", UUIDString(s.UUID), s.Start, s.End)
		for _, c := range s.Characteristics {
			fmt.Fprintf(bw, "    char %s\n", UUIDString(c.UUID))
			for _, d := range c.Descriptors {
				fmt.Fprintf(bw, "        desc %s %d\n", UUIDString(d.UUID), d.Handle)
			}
		}
	}
	return bw.Flush()
}

// SaveFile writes t to a file, replacing any previous contents.
func SaveFile(filename string, t *Table) error {
	file, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if err := Save(file, t); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Load reads a table previously written by Save. Indentation is not significant and blank lines
// are ignored.
func Load(r io.Reader) (*Table, error) {
	var p snapshotParser
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.line++
		if err := p.parseLine(strings.Fields(scanner.Text())); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := p.closeCharacteristic(); err != nil {
		return nil, err
	}
	return &p.table, nil
}

// LoadFile reads a table from disk.
func LoadFile(filename string) (*Table, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Load(file)
}

func (t *Table) MarshalText() ([]byte, error) {
	var buf bytes.Buffer
	if err := Save(&buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (t *Table) UnmarshalText(text []byte) error {
	loaded, err := Load(bytes.NewReader(text))
	if err != nil {
		return err
	}
	*t = *loaded
	return nil
}

type snapshotParser struct {
	table          Table
	line           int
	service        *Service
	characteristic *Characteristic
	// characteristicLine is where the open characteristic was declared.
	characteristicLine int
}

func (p *snapshotParser) errorf(line int, format string, a ...interface{}) error {
	return fmt.Errorf("%w: line %d: %s", ErrMalformedSnapshot, line, fmt.Sprintf(format, a...))
}

func (p *snapshotParser) parseLine(fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	switch {
	case fields[0] == "service" && len(fields) == 7 && fields[1] == "uuid" && fields[3] == "start" && fields[5] == "end":
		return p.parseService(fields[2], fields[4], fields[6])
	case fields[0] == "char" && len(fields) == 2:
		return p.parseCharacteristic(fields[1])
	case fields[0] == "desc" && len(fields) == 3:
		return p.parseDescriptor(fields[1], fields[2])
	}
	return p.errorf(p.line, "unrecognized line '%s'", strings.Join(fields, " "))
}

func (p *snapshotParser) parseHandle(s string) (uint16, error) {
	handle, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, p.errorf(p.line, "invalid handle '%s'", s)
	}
	return uint16(handle), nil
}

func (p *snapshotParser) parseService(uuid, start, end string) error {
	if err := p.closeCharacteristic(); err != nil {
		return err
	}
	u, err := ParseUUID(uuid)
	if err != nil {
		return p.errorf(p.line, "%s", err)
	}
	s := &Service{UUID: u}
	if s.Start, err = p.parseHandle(start); err != nil {
		return err
	}
	if s.End, err = p.parseHandle(end); err != nil {
		return err
	}
	if s.End < s.Start {
		return p.errorf(p.line, "service ends at %d before it starts at %d", s.End, s.Start)
	}
	p.table.Services = append(p.table.Services, s)
	p.service = s
	return nil
}

func (p *snapshotParser) parseCharacteristic(uuid string) error {
	if p.service == nil {
		return p.errorf(p.line, "characteristic outside of a service")
	}
	if err := p.closeCharacteristic(); err != nil {
		return err
	}
	u, err := ParseUUID(uuid)
	if err != nil {
		return p.errorf(p.line, "%s", err)
	}
	p.characteristic = &Characteristic{UUID: u}
	p.characteristicLine = p.line
	return nil
}

func (p *snapshotParser) parseDescriptor(uuid, handle string) error {
	if p.characteristic == nil {
		return p.errorf(p.line, "descriptor outside of a characteristic")
	}
	u, err := ParseUUID(uuid)
	if err != nil {
		return p.errorf(p.line, "%s", err)
	}
	d := &Descriptor{UUID: u}
	if d.Handle, err = p.parseHandle(handle); err != nil {
		return err
	}
	if !p.service.Contains(d.Handle) {
		return p.errorf(p.line, "handle %d is outside of service range %d-%d", d.Handle, p.service.Start, p.service.End)
	}
	p.characteristic.Descriptors = append(p.characteristic.Descriptors, d)
	return nil
}

// closeCharacteristic checks the open characteristic for a declaration followed by a value of the
// characteristic's type, and adds it to the current service.
func (p *snapshotParser) closeCharacteristic() error {
	c := p.characteristic
	if c == nil {
		return nil
	}
	p.characteristic = nil

	declaration := c.Descriptor(CharacteristicUUID)
	if declaration == nil {
		return p.errorf(p.characteristicLine, "characteristic %s has no declaration", UUIDString(c.UUID))
	}
	c.ValueHandle = declaration.Handle + 1
	var value *Descriptor
	for _, d := range c.Descriptors {
		if d.Handle == c.ValueHandle {
			value = d
			break
		}
	}
	if value == nil {
		return p.errorf(p.characteristicLine, "characteristic %s has no value at handle %d", UUIDString(c.UUID), c.ValueHandle)
	}
	if !value.UUID.Equal(c.UUID) {
		return p.errorf(p.characteristicLine, "characteristic %s has value of type %s", UUIDString(c.UUID), UUIDString(value.UUID))
	}
	p.service.Characteristics = append(p.service.Characteristics, c)
	return nil
}
