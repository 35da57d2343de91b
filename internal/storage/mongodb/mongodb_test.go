package mongodb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func TestDuplicateIndex(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "display name",
			err: mongo.WriteException{WriteErrors: []mongo.WriteError{{
				Code:    11000,
				Message: "E11000 duplicate key error collection: judge.users index: users_show_name dup key: { show_name: \"Alice\" }",
			}}},
			want: indexShowName,
		},
		{
			name: "username",
			err: mongo.WriteException{WriteErrors: []mongo.WriteError{{
				Code:    11000,
				Message: "E11000 duplicate key error collection: judge.users index: users_username dup key: { username: \"alice\" }",
			}}},
			want: indexUsername,
		},
		{
			name: "other write error",
			err:  mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 121, Message: "validation"}}},
			want: "",
		},
		{
			name: "not a write exception",
			err:  mongo.ErrNoDocuments,
			want: "",
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, duplicateIndex(tt.err))
		})
	}
}
