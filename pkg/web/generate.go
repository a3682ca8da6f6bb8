package web

//go:generate sh -c "test -d static/src && go tool esbuild static/src/livereload.ts --outfile=static/livereload.js --target=es2017 --bundle || echo 'Skipping client compilation (no static/src directory)'"
