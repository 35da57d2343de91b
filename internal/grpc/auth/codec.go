package auth

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

const (
	protoPackage = "judge.auth.v1"
	protoFile    = "judge/auth/v1/auth.proto"
)

// codec speaks the protobuf wire format. Generated messages go straight to
// proto; the plain structs of this package are encoded through dynamic
// messages described by their pb tags. It replaces the default "proto"
// codec, so clients need no call options.
type codec struct {
	schema *schema
}

func init() {
	encoding.RegisterCodec(codec{schema: mustBuildSchema(wireMessages...)})
}

func (c codec) Marshal(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return proto.Marshal(m)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("proto codec: nil %T", v)
		}
		rv = rv.Elem()
	}
	ms, err := c.schema.lookup(rv.Type())
	if err != nil {
		return nil, err
	}

	return proto.Marshal(ms.encode(rv))
}

func (c codec) Unmarshal(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("proto codec: cannot decode into %T", v)
	}
	rv = rv.Elem()
	ms, err := c.schema.lookup(rv.Type())
	if err != nil {
		return err
	}

	msg := dynamicpb.NewMessage(ms.desc)
	if err := proto.Unmarshal(data, msg); err != nil {
		return err
	}
	rv.SetZero()
	ms.decode(msg, rv)

	return nil
}

func (codec) Name() string {
	return "proto"
}

type schema struct {
	file     protoreflect.FileDescriptor
	messages map[reflect.Type]*messageSchema
}

type messageSchema struct {
	desc   protoreflect.MessageDescriptor
	fields []fieldSchema
}

type fieldSchema struct {
	index int
	desc  protoreflect.FieldDescriptor
	// elem describes the nested message of message and repeated message fields.
	elem *messageSchema
}

func (s *schema) lookup(t reflect.Type) (*messageSchema, error) {
	ms, ok := s.messages[t]
	if !ok {
		return nil, fmt.Errorf("proto codec: %s is not a %s message", t, protoPackage)
	}
	return ms, nil
}

func mustBuildSchema(samples ...any) *schema {
	s, err := buildSchema(samples...)
	if err != nil {
		panic(err)
	}
	return s
}

// buildSchema derives one proto3 file descriptor from the struct types of
// samples. Nested message types must be listed as well.
func buildSchema(samples ...any) (*schema, error) {
	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String(protoFile),
		Package: proto.String(protoPackage),
		Syntax:  proto.String("proto3"),
	}

	types := make([]reflect.Type, 0, len(samples))
	numbers := make(map[reflect.Type][]int32, len(samples))
	for _, sample := range samples {
		t := reflect.TypeOf(sample)
		if t.Kind() != reflect.Struct {
			return nil, fmt.Errorf("proto schema: %s is not a struct", t)
		}

		msg := &descriptorpb.DescriptorProto{Name: proto.String(t.Name())}
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			fd, err := fieldDescriptor(f)
			if err != nil {
				return nil, fmt.Errorf("proto schema: %s.%s: %w", t.Name(), f.Name, err)
			}
			msg.Field = append(msg.Field, fd)
			numbers[t] = append(numbers[t], fd.GetNumber())
		}

		fdp.MessageType = append(fdp.MessageType, msg)
		types = append(types, t)
	}

	file, err := protodesc.NewFile(fdp, nil)
	if err != nil {
		return nil, fmt.Errorf("proto schema: %w", err)
	}

	s := &schema{file: file, messages: make(map[reflect.Type]*messageSchema, len(types))}
	byName := make(map[protoreflect.FullName]*messageSchema, len(types))
	for _, t := range types {
		desc := file.Messages().ByName(protoreflect.Name(t.Name()))
		ms := &messageSchema{desc: desc}
		for i, num := range numbers[t] {
			ms.fields = append(ms.fields, fieldSchema{index: i, desc: desc.Fields().ByNumber(protoreflect.FieldNumber(num))})
		}
		s.messages[t] = ms
		byName[desc.FullName()] = ms
	}
	for _, ms := range s.messages {
		for i := range ms.fields {
			if md := ms.fields[i].desc.Message(); md != nil {
				ms.fields[i].elem = byName[md.FullName()]
			}
		}
	}

	return s, nil
}

func fieldDescriptor(f reflect.StructField) (*descriptorpb.FieldDescriptorProto, error) {
	num, err := strconv.ParseInt(f.Tag.Get("pb"), 10, 32)
	if err != nil || num < 1 {
		return nil, fmt.Errorf("bad pb tag %q", f.Tag.Get("pb"))
	}
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" {
		return nil, fmt.Errorf("missing json tag")
	}

	fd := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(int32(num)),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
	}

	t := f.Type
	if t.Kind() == reflect.Slice {
		fd.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.String:
		fd.Type = descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum()
	case reflect.Bool:
		fd.Type = descriptorpb.FieldDescriptorProto_TYPE_BOOL.Enum()
	case reflect.Int, reflect.Int64:
		fd.Type = descriptorpb.FieldDescriptorProto_TYPE_INT64.Enum()
	case reflect.Struct:
		fd.Type = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum()
		fd.TypeName = proto.String("." + protoPackage + "." + t.Name())
	default:
		return nil, fmt.Errorf("unsupported kind %s", t.Kind())
	}

	return fd, nil
}

func (ms *messageSchema) encode(v reflect.Value) *dynamicpb.Message {
	msg := dynamicpb.NewMessage(ms.desc)
	ms.fill(msg, v)
	return msg
}

func (ms *messageSchema) fill(msg protoreflect.Message, v reflect.Value) {
	for _, f := range ms.fields {
		fv := v.Field(f.index)

		if f.desc.IsList() {
			if fv.Len() == 0 {
				continue
			}
			list := msg.Mutable(f.desc).List()
			for i := 0; i < fv.Len(); i++ {
				elem := fv.Index(i)
				if f.elem != nil {
					val := list.NewElement()
					f.elem.fill(val.Message(), elem)
					list.Append(val)
					continue
				}
				list.Append(scalar(elem))
			}
			continue
		}

		if fv.IsZero() {
			continue
		}
		if f.elem != nil {
			f.elem.fill(msg.Mutable(f.desc).Message(), fv)
			continue
		}
		msg.Set(f.desc, scalar(fv))
	}
}

func (ms *messageSchema) decode(msg protoreflect.Message, v reflect.Value) {
	for _, f := range ms.fields {
		fv := v.Field(f.index)

		if f.desc.IsList() {
			list := msg.Get(f.desc).List()
			if list.Len() == 0 {
				continue
			}
			out := reflect.MakeSlice(fv.Type(), list.Len(), list.Len())
			for i := 0; i < list.Len(); i++ {
				if f.elem != nil {
					f.elem.decode(list.Get(i).Message(), out.Index(i))
					continue
				}
				setScalar(out.Index(i), list.Get(i))
			}
			fv.Set(out)
			continue
		}

		if !msg.Has(f.desc) {
			continue
		}
		if f.elem != nil {
			f.elem.decode(msg.Get(f.desc).Message(), fv)
			continue
		}
		setScalar(fv, msg.Get(f.desc))
	}
}

func scalar(v reflect.Value) protoreflect.Value {
	switch v.Kind() {
	case reflect.String:
		return protoreflect.ValueOfString(v.String())
	case reflect.Bool:
		return protoreflect.ValueOfBool(v.Bool())
	default:
		return protoreflect.ValueOfInt64(v.Int())
	}
}

func setScalar(dst reflect.Value, v protoreflect.Value) {
	switch dst.Kind() {
	case reflect.String:
		dst.SetString(v.String())
	case reflect.Bool:
		dst.SetBool(v.Bool())
	default:
		dst.SetInt(v.Int())
	}
}
