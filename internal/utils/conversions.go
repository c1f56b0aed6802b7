package utils

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/vskvj3/geomys-list/internal/replicate/proto"
)

// ConvertRequestToCommand converts a request map to a proto.Command
func ConvertRequestToCommand(request map[string]interface{}) (*proto.Command, error) {
	command, ok := request["command"].(string)
	if !ok {
		return nil, errors.New("invalid command format")
	}

	protoCommand := &proto.Command{Command: command}
	if key, ok := request["key"].(string); ok {
		protoCommand.Key = key
	}
	if value, ok := request["value"].(string); ok {
		protoCommand.Value = value
	}
	if message, ok := request["message"].(string); ok {
		protoCommand.Message = message
	}
	if values, ok := request["values"]; ok {
		list, err := ToStrings(values)
		if err != nil {
			return nil, err
		}
		protoCommand.Values = list
	}
	if index, ok := request["index"]; ok {
		n, err := ToInt64(index)
		if err != nil {
			return nil, fmt.Errorf("index: %w", err)
		}
		protoCommand.Index, protoCommand.HasIndex = n, true
	}
	if stop, ok := request["stop"]; ok {
		n, err := ToInt64(stop)
		if err != nil {
			return nil, fmt.Errorf("stop: %w", err)
		}
		protoCommand.Stop, protoCommand.HasStop = n, true
	}
	if offset, ok := request["offset"]; ok {
		n, err := ToInt64(offset)
		if err != nil {
			return nil, fmt.Errorf("offset: %w", err)
		}
		protoCommand.Offset, protoCommand.HasOffset = n, true
	}
	if exp, ok := request["exp"]; ok {
		n, err := ToInt64(exp)
		if err != nil {
			return nil, fmt.Errorf("exp: %w", err)
		}
		protoCommand.Exp = n
	}

	return protoCommand, nil
}

// ConvertCommandToRequest converts a proto.Command back to a map
func ConvertCommandToRequest(cmd *proto.Command) map[string]interface{} {
	request := map[string]interface{}{
		"command": cmd.Command,
	}
	if cmd.Key != "" {
		request["key"] = cmd.Key
	}
	if cmd.Value != "" {
		request["value"] = cmd.Value
	}
	if cmd.Message != "" {
		request["message"] = cmd.Message
	}
	if len(cmd.Values) > 0 {
		request["values"] = cmd.Values
	}
	if cmd.HasIndex {
		request["index"] = cmd.Index
	}
	if cmd.HasStop {
		request["stop"] = cmd.Stop
	}
	if cmd.HasOffset {
		request["offset"] = cmd.Offset
	}
	if cmd.Exp != 0 {
		request["exp"] = cmd.Exp
	}

	return request
}

// ToInt64 accepts every integer width msgpack may decode to, and decimal
// strings.
func ToInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > 1<<63-1 {
			return 0, fmt.Errorf("integer %d overflows int64", n)
		}
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("not an integer: %T", v)
	}
}

// ToStrings accepts a []string or a []interface{} of strings.
func ToStrings(v interface{}) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return list, nil
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("list element is %T, not a string", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("not a list: %T", v)
	}
}
