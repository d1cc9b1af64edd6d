package bq

import (
	"errors"

	"cloud.google.com/go/bigquery"
)

func asBigQueryError(err error, target **bigquery.Error) bool {
	if errors.As(err, target) {
		return true
	}
	var multi bigquery.MultiError
	if errors.As(err, &multi) {
		for _, e := range multi {
			if errors.As(e, target) {
				return true
			}
		}
	}
	return false
}
