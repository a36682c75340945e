/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ephemera-dev/ephemera/pkg/operator"
	"github.com/ephemera-dev/ephemera/pkg/operator/options"
)

func main() {
	opts := options.New().MustParse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("Unable to initialize logger, %s", err))
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	op, err := operator.New(ctx, opts, log)
	if err != nil {
		log.Fatalf("Unable to initialize operator, %s", err)
	}
	if err := op.Start(ctx); err != nil {
		log.Fatalf("Unable to start operator, %s", err)
	}
}
